package cmd

import (
	"errors"
	"io"
	"testing"

	"github.com/smazurov/capturewatch/internal/config"
	"github.com/smazurov/capturewatch/internal/probe"
	"github.com/smazurov/capturewatch/internal/stream"
)

func TestRootCmdRejectsBadArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr error
	}{
		{name: "no args", args: nil},
		{name: "too few", args: []string{"h264", "3000000"}},
		{name: "too many", args: []string{"h264", "3000000", "60", "extra"}},
		{name: "bad codec", args: []string{"vp9", "3000000", "60"}, wantErr: stream.ErrInvalidCodec},
		{name: "uppercase codec", args: []string{"H265", "3000000", "60"}, wantErr: stream.ErrInvalidCodec},
		{name: "zero bitrate", args: []string{"h265", "0", "60"}, wantErr: stream.ErrInvalidBitrate},
		{name: "bad gop", args: []string{"h265", "3000000", "sixty"}, wantErr: stream.ErrInvalidGOP},
		{name: "unknown flag", args: []string{"--device", "/dev/video0", "h264", "1", "1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := CreateRootCmd()
			cmd.SetArgs(tt.args)
			cmd.SetOut(io.Discard)
			cmd.SetErr(io.Discard)

			err := cmd.Execute()
			if err == nil {
				t.Fatal("expected an error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRootCmdHasNoFlags(t *testing.T) {
	cmd := CreateRootCmd()
	// Only cobra's own help flag is added, and that happens at execution
	if cmd.Flags().HasFlags() || cmd.PersistentFlags().HasFlags() {
		t.Error("root command must not define flags")
	}
}

func TestNewConsumerProbeUsesProcessScan(t *testing.T) {
	opts := config.DefaultOptions()

	consumer, closeFn, err := newConsumerProbe(t.Context(), opts)
	if err != nil {
		t.Fatal(err)
	}
	defer closeFn()

	if _, ok := consumer.(*probe.ProcessConsumerProbe); !ok {
		t.Errorf("consumer = %T, want *probe.ProcessConsumerProbe", consumer)
	}
}

func TestNewConsumerProbePrefersAPI(t *testing.T) {
	opts := config.DefaultOptions()
	opts.ConsumerAPIURL = "http://127.0.0.1:9997"
	opts.ConsumerSystemdUnit = "mediamtx.service"

	consumer, closeFn, err := newConsumerProbe(t.Context(), opts)
	if err != nil {
		t.Fatal(err)
	}
	defer closeFn()

	if _, ok := consumer.(*probe.APIConsumerProbe); !ok {
		t.Errorf("consumer = %T, want *probe.APIConsumerProbe", consumer)
	}
}
