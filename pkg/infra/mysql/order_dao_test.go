package mysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionedAssignmentsUpdateVersionLast(t *testing.T) {
	set := versionedAssignments()
	require.Len(t, set, len(snapshotColumns)+1)
	assert.Equal(t, "version", set[len(set)-1].Column.Name)

	seen := map[string]bool{}
	for _, a := range set {
		assert.False(t, seen[a.Column.Name], "duplicate column %s", a.Column.Name)
		seen[a.Column.Name] = true
	}
	assert.False(t, seen["id"])
	assert.False(t, seen["created_at"])
}

func TestOrderPOTableName(t *testing.T) {
	assert.Equal(t, "pix_orders", OrderPO{}.TableName())
}
