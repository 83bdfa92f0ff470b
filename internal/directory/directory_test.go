package directory

import (
	"context"
	"testing"

	"points_engine/internal/model"
	"points_engine/internal/testutil"

	"github.com/stretchr/testify/require"
)

func TestGetUserAndStore(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()
	store := model.Store{Name: "Bean There", OwnerID: 1, IsActive: true}
	require.NoError(t, db.Create(&store).Error)
	vendor := model.User{Name: "Vera", Role: model.RoleVendor, StoreID: &store.ID}
	require.NoError(t, db.Create(&vendor).Error)

	d := New(db)
	u, err := d.GetUser(ctx, vendor.ID)
	require.NoError(t, err)
	require.Equal(t, model.RoleVendor, u.Role)

	s, err := d.GetStore(ctx, store.ID)
	require.NoError(t, err)
	require.True(t, s.IsActive)

	_, err = d.GetUser(ctx, 999)
	require.ErrorIs(t, err, ErrUserNotFound)
	_, err = d.GetStore(ctx, 999)
	require.ErrorIs(t, err, ErrStoreNotFound)
}

func TestVendorOf(t *testing.T) {
	storeID := uint(5)
	other := uint(6)
	s := &model.Store{ID: storeID, OwnerID: 10}

	require.True(t, VendorOf(&model.User{ID: 10, Role: model.RoleVendor}, s))
	require.True(t, VendorOf(&model.User{ID: 11, Role: model.RoleVendor, StoreID: &storeID}, s))
	require.False(t, VendorOf(&model.User{ID: 12, Role: model.RoleVendor, StoreID: &other}, s))
	require.False(t, VendorOf(&model.User{ID: 10, Role: model.RoleCustomer}, s))
	require.False(t, VendorOf(nil, s))
}
