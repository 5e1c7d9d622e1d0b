package backend

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryDefaultsAndOrder(t *testing.T) {
	r, err := NewRegistry([]TableSpec{
		{Name: "stores"},
		{Name: "products", PrimaryKey: "sku", TimestampColumn: "modified_at"},
		{Name: "orders"},
	})
	require.NoError(t, err)

	stores, ok := r.Lookup("stores")
	require.True(t, ok)
	assert.Equal(t, "id", stores.PrimaryKey)
	assert.Equal(t, "updated_at", stores.TimestampColumn)

	products, ok := r.Lookup("products")
	require.True(t, ok)
	assert.Equal(t, "sku", products.PrimaryKey)
	assert.Equal(t, "modified_at", products.TimestampColumn)

	_, ok = r.Lookup("unknown")
	assert.False(t, ok)

	ordered := r.Ordered()
	require.Len(t, ordered, 3)
	assert.Equal(t, "stores", ordered[0].Name)
	assert.Equal(t, "products", ordered[1].Name)
	assert.Equal(t, "orders", ordered[2].Name)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry([]TableSpec{{Name: "products"}, {Name: "products"}})
	require.Error(t, err)
}

func TestRegistryRejectsEmptyName(t *testing.T) {
	_, err := NewRegistry([]TableSpec{{Name: ""}})
	require.Error(t, err)
}

func TestTableSpecValidate(t *testing.T) {
	spec := TableSpec{Name: "products", PrimaryKey: "id"}

	assert.NoError(t, spec.Validate(Row{"id": "p1", "name": "Coffee"}))
	assert.Error(t, spec.Validate(Row{"name": "no id"}))
	assert.Error(t, spec.Validate(Row{"id": nil}))
	assert.Error(t, spec.Validate(Row{"id": ""}))
}

func TestRowID(t *testing.T) {
	id, ok := RowID(Row{"id": "abc"}, "id")
	require.True(t, ok)
	assert.Equal(t, "abc", id)

	id, ok = RowID(Row{"id": []byte("xyz")}, "id")
	require.True(t, ok)
	assert.Equal(t, "xyz", id)

	id, ok = RowID(Row{"id": int64(42)}, "id")
	require.True(t, ok)
	assert.Equal(t, "42", id)

	_, ok = RowID(Row{}, "id")
	assert.False(t, ok)
}

func TestRowTime(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)

	got, ok := RowTime(Row{"updated_at": now}, "updated_at")
	require.True(t, ok)
	assert.True(t, got.Equal(now))

	got, ok = RowTime(Row{"updated_at": "2024-05-01 12:30:00"}, "updated_at")
	require.True(t, ok)
	assert.True(t, got.Equal(now))

	got, ok = RowTime(Row{"updated_at": "2024-05-01T12:30:00Z"}, "updated_at")
	require.True(t, ok)
	assert.True(t, got.Equal(now))

	_, ok = RowTime(Row{"updated_at": "not a time"}, "updated_at")
	assert.False(t, ok)

	_, ok = RowTime(Row{}, "updated_at")
	assert.False(t, ok)
}
