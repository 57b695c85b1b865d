package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRequire(t *testing.T) {
	t.Setenv("TMF_REQUIRED", "  value ")
	v, err := Require("TMF_REQUIRED")
	require.NoError(t, err)
	require.Equal(t, "value", v)

	t.Setenv("TMF_REQUIRED", "")
	_, err = Require("TMF_REQUIRED")
	require.Error(t, err)
	require.Contains(t, err.Error(), "TMF_REQUIRED")
}

func TestString_Default(t *testing.T) {
	t.Setenv("TMF_GROUP", "")
	require.Equal(t, "$Default", String("TMF_GROUP", "$Default"))

	t.Setenv("TMF_GROUP", "analytics")
	require.Equal(t, "analytics", String("TMF_GROUP", "$Default"))
}

func TestInt(t *testing.T) {
	t.Setenv("TMF_MAX", "25")
	require.Equal(t, 25, Int("TMF_MAX", 50))

	t.Setenv("TMF_MAX", "lots")
	require.Equal(t, 50, Int("TMF_MAX", 50))

	t.Setenv("TMF_MAX", "")
	require.Equal(t, 50, Int("TMF_MAX", 50))
}

func TestBool(t *testing.T) {
	for _, v := range []string{"true", "YES", "1", " t "} {
		t.Setenv("TMF_FLAG", v)
		require.True(t, Bool("TMF_FLAG"), v)
	}
	for _, v := range []string{"", "false", "0", "nope"} {
		t.Setenv("TMF_FLAG", v)
		require.False(t, Bool("TMF_FLAG"), v)
	}
}

func TestMinutes(t *testing.T) {
	t.Setenv("TMF_WINDOW", "10")
	require.Equal(t, 10*time.Minute, Minutes("TMF_WINDOW", 60))
}

func TestList(t *testing.T) {
	t.Setenv("TMF_USERS", "user-1, user-2,,  ")
	require.Equal(t, []string{"user-1", "user-2"}, List("TMF_USERS"))

	t.Setenv("TMF_USERS", "")
	require.Empty(t, List("TMF_USERS"))
}
