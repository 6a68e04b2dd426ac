package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrations_Embedded(t *testing.T) {
	migrations, err := Migrations()
	require.NoError(t, err)
	require.Len(t, migrations, 3)

	for i, m := range migrations {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.Up)
		assert.NotEmpty(t, m.Down)
	}

	assert.Equal(t, "sequences", migrations[0].Name)
	assert.Contains(t, migrations[0].Up, "sys_sequences")
	assert.Contains(t, migrations[0].Up, "reset_mode")
	assert.Contains(t, migrations[1].Up, "sys_audit")
	assert.Contains(t, migrations[2].Up, "sys_idempotency")
}
