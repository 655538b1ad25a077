package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/syntrixbase/docsync/internal/localstore"
	"github.com/syntrixbase/docsync/internal/services"
	"github.com/syntrixbase/docsync/pkg/model"
)

var errOffline = errors.New("cannot replay pending operations while offline")

// documentView is the printed form of a document.
type documentView struct {
	ID               string          `json:"id"`
	Partition        string          `json:"partition"`
	ETag             string          `json:"eTag,omitempty"`
	LastUpdated      *time.Time      `json:"lastUpdated,omitempty"`
	FromDeviceCache  bool            `json:"fromDeviceCache"`
	PendingOperation string          `json:"pendingOperation,omitempty"`
	Value            json.RawMessage `json:"value,omitempty"`
	Error            string          `json:"error,omitempty"`
}

func viewOf(doc *model.Document) documentView {
	v := documentView{
		ID:               doc.ID,
		Partition:        doc.Partition,
		ETag:             doc.ETag,
		FromDeviceCache:  doc.FromDeviceCache,
		PendingOperation: doc.PendingOperation.String(),
		Value:            doc.Value,
	}
	if !doc.LastUpdated.IsZero() {
		t := doc.LastUpdated
		v.LastUpdated = &t
	}
	if doc.Err != nil {
		v.Error = doc.Err.Error()
	}
	return v
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ttlFlag registers --ttl and returns a getter that yields nil when the flag
// was not given.
func ttlFlag(cmd *cobra.Command) func() *model.TimeToLive {
	var seconds int64
	cmd.Flags().Int64Var(&seconds, "ttl", int64(model.TTLDefault), "device cache seconds; -1 keeps forever, 0 disables caching")
	return func() *model.TimeToLive {
		if !cmd.Flags().Changed("ttl") {
			return nil
		}
		return model.WithTTL(model.TimeToLive(seconds))
	}
}

func newGetCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Read a document",
		Args:  cobra.ExactArgs(1),
	}
	ttl := ttlFlag(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, flags, func(ctx context.Context, m *services.Manager) error {
			doc, err := m.Engine().Read(ctx, flags.partition, args[0], model.ReadOptions{TTL: ttl()})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), viewOf(doc))
		})
	}
	return cmd
}

func newPutCmd(flags *globalFlags) *cobra.Command {
	var replace bool
	cmd := &cobra.Command{
		Use:   "put <id> <json>",
		Short: "Create a document, or replace it with --replace",
		Args:  cobra.ExactArgs(2),
	}
	ttl := ttlFlag(cmd)
	cmd.Flags().BoolVar(&replace, "replace", false, "replace an existing document")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		value := json.RawMessage(args[1])
		if !json.Valid(value) {
			return fmt.Errorf("document body is not valid JSON")
		}
		return withSession(cmd, flags, func(ctx context.Context, m *services.Manager) error {
			opts := model.WriteOptions{TTL: ttl()}
			var (
				doc *model.Document
				err error
			)
			if replace {
				doc, err = m.Engine().Replace(ctx, flags.partition, args[0], value, opts)
			} else {
				doc, err = m.Engine().Create(ctx, flags.partition, args[0], value, opts)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), viewOf(doc))
		})
	}
	return cmd
}

func newDeleteCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a document",
		Args:  cobra.ExactArgs(1),
	}
	ttl := ttlFlag(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, flags, func(ctx context.Context, m *services.Manager) error {
			doc, err := m.Engine().Delete(ctx, flags.partition, args[0], model.WriteOptions{TTL: ttl()})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), viewOf(doc))
		})
	}
	return cmd
}

func newListCmd(flags *globalFlags) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the documents of a partition",
		Args:  cobra.NoArgs,
	}
	ttl := ttlFlag(cmd)
	cmd.Flags().BoolVar(&all, "all", false, "fetch every remaining page")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, flags, func(ctx context.Context, m *services.Manager) error {
			result, err := m.Engine().List(ctx, flags.partition, model.ReadOptions{TTL: ttl()})
			if err != nil {
				return err
			}
			docs := result.CurrentPage().Items
			if all {
				if docs, err = result.All(ctx); err != nil {
					return err
				}
			}
			views := make([]documentView, 0, len(docs))
			for i := range docs {
				views = append(views, viewOf(&docs[i]))
			}
			return printJSON(cmd.OutOrStdout(), views)
		})
	}
	return cmd
}

type pendingView struct {
	Table     string `json:"table"`
	Partition string `json:"partition"`
	ID        string `json:"id"`
	Operation string `json:"operation"`
	Expired   bool   `json:"expired,omitempty"`
}

func newPendingCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "Show operations waiting for replay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, flags, func(ctx context.Context, m *services.Manager) error {
				rows, err := m.Engine().PendingOperations(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), pendingViews(rows, time.Now()))
			})
		},
	}
}

func pendingViews(rows []localstore.LocalDocument, now time.Time) []pendingView {
	views := make([]pendingView, 0, len(rows))
	for i := range rows {
		views = append(views, pendingView{
			Table:     rows[i].Table,
			Partition: rows[i].Partition,
			ID:        rows[i].ID,
			Operation: rows[i].RawOperation(),
			Expired:   rows[i].IsExpired(now),
		})
	}
	return views
}

func newDrainCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Replay pending operations now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, flags, func(ctx context.Context, m *services.Manager) error {
				if !m.Network().Online() {
					return errOffline
				}
				if err := m.Engine().Drain(ctx); err != nil {
					return err
				}
				rows, err := m.Engine().PendingOperations(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d pending operation(s) remain\n", len(rows))
				return nil
			})
		},
	}
}
