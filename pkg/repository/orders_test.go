package repository

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/example/bookshop/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteOrdersCSV(t *testing.T) {
	created := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	orders := []models.Order{
		{Name: "Jane Reader", Email: "jane@example.com", BookTitle: "Book A x2", Amount: 2599, CreatedAt: created},
		{Name: "Sam Buyer", Email: "sam@example.com", BookTitle: "Book B x1, Book C x1", Amount: 3150, CreatedAt: created.Add(-time.Hour)},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteOrdersCSV(&buf, orders))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, []string{"name", "email", "bookTitle", "amount", "date"}, records[0])
	assert.Equal(t, []string{"Jane Reader", "jane@example.com", "Book A x2", "2599", "2025-06-01T12:30:00Z"}, records[1])
	assert.Equal(t, "sam@example.com", records[2][1])
}

func TestWriteOrdersCSVEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteOrdersCSV(&buf, nil))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1) // header only
}

func TestOrderItemListRoundTrip(t *testing.T) {
	order := models.Order{Items: `[{"title":"Book A","quantity":2,"price":1299}]`}
	items := order.ItemList()
	require.Len(t, items, 1)
	assert.Equal(t, "Book A", items[0].Title)
	assert.Equal(t, int64(1299), items[0].UnitAmount)

	assert.Nil(t, (&models.Order{Items: "not json"}).ItemList())
	assert.Nil(t, (&models.Order{}).ItemList())
}
