package db

import (
	"testing"

	"github.com/codecanvas-io/collab/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		dsn  string
		tls  bool
		want string
	}{
		{"tls off", "host=db sslmode=disable", false, "host=db sslmode=disable"},
		{"replace sslmode", "host=db sslmode=disable port=5432", true, "host=db sslmode=require port=5432"},
		{"replace spaced sslmode", "host=db SSLMODE = prefer", true, "host=db sslmode=require"},
		{"append sslmode", "host=db", true, "host=db sslmode=require"},
		{"empty dsn", "", true, "sslmode=require"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Database: config.DatabaseCfg{DSN: tt.dsn, EnableTLS: tt.tls}}
			assert.Equal(t, tt.want, DSN(cfg))
		})
	}
}
