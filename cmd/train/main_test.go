package main

import (
	"net"
	"testing"

	"github.com/hal2001/data-science-bowl-2018/logging"
	"github.com/hal2001/data-science-bowl-2018/network"
	"github.com/hal2001/data-science-bowl-2018/training"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunRejectsUnknownModelBeforeViewer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	t.Setenv("DSB_VIEWER_ADDR", ln.Addr().String())
	t.Setenv("DSB_BASEPATH", t.TempDir())
	t.Setenv("DSB_DATA_DIR", t.TempDir())
	t.Setenv("DSB_LOG_LEVEL", "error")
	defer logging.SetLevel(logging.LogLevelInfo)

	cfg := training.DefaultConfig()
	cfg.Model = "resnet"
	cfg.ShowTrain = 1

	err = run(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, network.ErrUnknownModel)
	assert.NotContains(t, err.Error(), "viewer listen")
}
