package postgres

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestIsConnError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"eof", io.EOF, true},
		{"wrapped eof", fmt.Errorf("read: %w", io.ErrUnexpectedEOF), true},
		{"broken pipe", errors.New("write tcp 10.0.0.1:5432: broken pipe"), true},
		{"connection reset", errors.New("read tcp: connection reset by peer"), true},
		{"closed pool", errors.New("closed pool"), true},
		{"conn closed", errors.New("conn closed"), true},
		{"refused", errors.New("dial tcp 127.0.0.1:5432: connection refused"), true},
		{"pg connection exception", &pgconn.PgError{Code: "08006"}, true},
		{"pg unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"pg syntax error", &pgconn.PgError{Code: "42601"}, false},
		{"plain sql error", errors.New("no rows in result set"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isConnError(tc.err))
		})
	}
}
