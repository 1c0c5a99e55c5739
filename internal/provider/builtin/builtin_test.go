package builtin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fiscalsync/internal/provider"
)

func TestRegistry(t *testing.T) {
	r, err := Registry()
	require.NoError(t, err)
	assert.Equal(t, []string{"anaf", "smartbill"}, r.Names())

	a, err := r.Create("smartbill", provider.Config{Credentials: map[string]string{
		"username": "u", "token": "t", "company_cif": "RO1",
	}})
	require.NoError(t, err)
	assert.Equal(t, "smartbill", a.Name())

	_, err = r.Create("fgo", provider.Config{})
	assert.Equal(t, provider.CodeUnknownProvider, provider.CodeOf(err))
}
