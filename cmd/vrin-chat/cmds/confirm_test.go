package cmds

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func TestAsk(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{in: "y\n", want: true},
		{in: "YES\n", want: true},
		{in: "n\n", want: false},
		{in: "\n", want: false},
	}
	for _, tc := range cases {
		var out bytes.Buffer
		got, err := ask(strings.NewReader(tc.in), &out, "Delete it? [y/n]")
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got, tc.in)
		require.Contains(t, out.String(), "Delete it?")
	}
}

func TestConfirm_SkipsPromptWithoutTerminal(t *testing.T) {
	cmd := &cobra.Command{}
	var errb bytes.Buffer
	cmd.SetIn(strings.NewReader("n\n"))
	cmd.SetErr(&errb)

	ok, err := confirm(cmd, false, "End session? [y/n]")
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, errb.String())
}
