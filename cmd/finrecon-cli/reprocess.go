package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"finrecon/internal/models"
	"finrecon/internal/service"
	"finrecon/pkg/logger"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type processor interface {
	ProcessDocument(ctx context.Context, documentID uuid.UUID) (*service.ProcessResult, error)
}

type batchSummary struct {
	Processed int
	Busy      int
	Failed    int
	ByStatus  map[models.DocumentStatus]int
}

func reprocessCmd() *cobra.Command {
	var (
		status      string
		limit       int
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "reprocess",
		Short: "Sweep documents in a status through the pipeline",
		Long: `Reprocess documents currently in the given status (UPLOADED by default).
Processing is idempotent, so a sweep can be repeated safely.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			docStatus := models.DocumentStatus(strings.ToUpper(status))
			switch docStatus {
			case models.DocumentStatusUploaded, models.DocumentStatusNeedsReview, models.DocumentStatusTenantMismatch:
			default:
				return fmt.Errorf("status %q cannot be reprocessed", status)
			}

			application, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer application.Close()
			defer logger.Sync()

			ids, err := application.Documents.ListIDsByStatus(cmd.Context(), docStatus, limit)
			if err != nil {
				return err
			}
			log := logger.Component("reprocess")
			log.Info("Reprocessing documents", zap.String("status", string(docStatus)), zap.Int("count", len(ids)))

			summary := runBatch(cmd.Context(), application.Engine, ids, concurrency, log)
			fmt.Fprintf(cmd.OutOrStdout(), "processed=%d busy=%d failed=%d\n", summary.Processed, summary.Busy, summary.Failed)
			for s, n := range summary.ByStatus {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s=%d\n", s, n)
			}
			if summary.Failed > 0 {
				return fmt.Errorf("%d documents failed", summary.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", string(models.DocumentStatusUploaded), "document status to sweep")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum documents to process")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "documents processed in parallel")
	return cmd
}

// runBatch processes ids with bounded parallelism. A failing document does
// not stop the sweep; a cancelled context does.
func runBatch(ctx context.Context, p processor, ids []uuid.UUID, concurrency int, log *zap.Logger) batchSummary {
	if concurrency < 1 {
		concurrency = 1
	}
	summary := batchSummary{ByStatus: make(map[models.DocumentStatus]int)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, id := range ids {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			result, err := p.ProcessDocument(gctx, id)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, service.ErrDocumentBusy):
				summary.Busy++
			case errors.Is(err, context.Canceled):
				return err
			case err != nil:
				summary.Failed++
				log.Warn("Document failed", zap.String("document_id", id.String()), zap.Error(err))
			default:
				summary.Processed++
				summary.ByStatus[result.Status]++
			}
			return nil
		})
	}
	_ = g.Wait()
	return summary
}
