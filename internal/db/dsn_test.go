package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithDBName(t *testing.T) {
	tests := []struct {
		name string
		dsn  string
		db   string
		want string
	}{
		{"replaces path", "postgres://bus:pw@db:5432/transit?sslmode=disable", "archive_2024", "postgres://bus:pw@db:5432/archive_2024?sslmode=disable"},
		{"postgresql scheme", "postgresql://db/transit", "/other", "postgresql://db/other"},
		{"keeps credentials", "postgres://bus:p%40ss@db/transit", "other", "postgres://bus:p%40ss@db/other"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := WithDBName(tt.dsn, tt.db)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := WithDBName("", "x")
	assert.Error(t, err)
	_, err = WithDBName("postgres://db/transit", " ")
	assert.Error(t, err)
	_, err = WithDBName("mysql://db/transit", "x")
	assert.Error(t, err)
}
