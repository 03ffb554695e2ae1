package cli

import (
	"context"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitRegistersConfigFlagWithDotDefault(t *testing.T) {
	root := Init("coredb")

	flag := root.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
	assert.Equal(t, ".", flag.DefValue)
	assert.Equal(t, ".", root.Options.ConfigPath)
}

func TestExecuteRunsTheRegisteredSubcommandAndParsesFlags(t *testing.T) {
	root := Init("coredb")

	var ran bool
	root.AddCommand(&cobra.Command{
		Use: "demo",
		RunE: func(cmd *cobra.Command, args []string) error {
			ran = true
			return nil
		},
	})

	root.SetArgs([]string{"demo", "--config", "/tmp/custom"})

	require.NoError(t, root.Execute(context.Background()))
	assert.True(t, ran)
	assert.Equal(t, "/tmp/custom", root.Options.ConfigPath)
}
