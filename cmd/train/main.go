// Command train fits a nuclei segmentation network on the Data Science Bowl
// 2018 images, scores the best checkpoint and writes a submission.
//
// Paths come from the environment: DSB_DATA_DIR, DSB_BASEPATH,
// DSB_VIEWER_ADDR and DSB_LOG_LEVEL.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/hal2001/data-science-bowl-2018/display"
	"github.com/hal2001/data-science-bowl-2018/logging"
	"github.com/hal2001/data-science-bowl-2018/network"
	"github.com/hal2001/data-science-bowl-2018/training"
)

func main() {
	cfg := training.DefaultConfig()
	flag.StringVar(&cfg.Model, "model", "", "network to train: "+strings.Join(network.Names(), "|"))
	flag.IntVar(&cfg.Epoch, "epoch", cfg.Epoch, "number of epochs")
	flag.IntVar(&cfg.BatchSize, "batchsize", cfg.BatchSize, "training batch size")
	flag.Float64Var(&cfg.LearningRate, "learning_rate", cfg.LearningRate, "base learning rate")
	flag.IntVar(&cfg.ValidInterval, "valid_interval", cfg.ValidInterval, "validate every n epochs")
	flag.StringVar(&cfg.Tag, "tag", cfg.Tag, "run name prefix (default: timestamp)")
	flag.IntVar(&cfg.ShowTrain, "show_train", cfg.ShowTrain, "number of training images to display")
	flag.IntVar(&cfg.ShowValid, "show_valid", cfg.ShowValid, "number of validation images to display")
	flag.IntVar(&cfg.ShowTest, "show_test", cfg.ShowTest, "number of test images to display")
	flag.Parse()

	if err := run(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "train:", err)
		os.Exit(1)
	}
}

func run(cfg training.Config) error {
	paths := training.LoadPaths()
	logging.SetLevel(logging.ParseLevel(paths.LogLevel))
	logger := logging.New("train")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	tr := training.NewTrainer(paths)
	tr.Progress = os.Stderr
	tr.OpenDisplay = func() (display.Display, error) {
		return display.NewWeb(paths.ViewerAddr)
	}
	res, err := tr.Run(ctx, cfg)
	if err != nil {
		return err
	}
	logger.Info("submission written", "name", res.Name, "score", fmt.Sprintf("%.5f", res.Score),
		"checkpoint", res.Checkpoint)
	return nil
}
