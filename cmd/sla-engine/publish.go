package main

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spec-kit/sla-engine/internal/events"
)

func publishCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Feed ticket events (JSON lines) through the SLA handlers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var in io.Reader = cmd.InOrStdin()
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			var published, failed int
			scanner := bufio.NewScanner(in)
			scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
			for line := 1; scanner.Scan(); line++ {
				raw := bytes.TrimSpace(scanner.Bytes())
				if len(raw) == 0 {
					continue
				}
				if err := ctx.Err(); err != nil {
					return err
				}

				event, err := events.Decode(raw)
				if err == nil {
					err = rt.events.Publish(ctx, event)
				}
				if err != nil {
					failed++
					rt.logger.Error("publish event", zap.Int("line", line), zap.Error(err))
					continue
				}
				published++
			}
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read events: %w", err)
			}

			rt.logger.Info("events published", zap.Int("published", published), zap.Int("failed", failed))
			if failed > 0 {
				return fmt.Errorf("%d of %d events failed", failed, published+failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "JSON lines file, - for stdin")
	return cmd
}
