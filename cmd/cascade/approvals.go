// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	goerrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jllopis/kairos-cascade/pkg/approval"
	"github.com/jllopis/kairos-cascade/pkg/errors"
	"github.com/jllopis/kairos-cascade/pkg/tier"
)

// approvalBackend is the part of approval.Store the CLI needs. It is served
// either by the configured store or by a running server's HTTP API.
type approvalBackend interface {
	List(ctx context.Context, filter approval.Filter) ([]*approval.Request, error)
	Decide(ctx context.Context, id string, decision approval.Decision) (*approval.Request, error)
}

func newApprovalsCmd(c *cli) *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "List and decide human tier approval requests",
	}
	cmd.PersistentFlags().StringVar(&serverURL, "server", "", "HTTP base URL of a running server; defaults to the configured store")

	open := func() (approvalBackend, func(), error) {
		if serverURL != "" {
			return &httpApprovals{base: strings.TrimRight(serverURL, "/"), client: &http.Client{Timeout: 30 * time.Second}}, func() {}, nil
		}
		if c.cfg.Approval.Store != "sqlite" {
			return nil, nil, NewCLIError(
				errors.New(tier.Human, errors.CodeNotConfigured, false, "approval store is process-local", nil),
				"pass --server http://host:port or set approval.store=sqlite",
			)
		}
		store, err := openApprovalStore(c.cfg.Approval)
		if err != nil {
			return nil, nil, newConfigError(err)
		}
		closeStore := func() {
			if closer, ok := store.(interface{ Close() error }); ok {
				_ = closer.Close()
			}
		}
		return store, closeStore, nil
	}

	cmd.AddCommand(
		newApprovalsListCmd(c, open),
		newApprovalsDecideCmd(c, open, approval.StatusApproved),
		newApprovalsDecideCmd(c, open, approval.StatusRejected),
	)
	return cmd
}

type openBackend func() (approvalBackend, func(), error)

func newApprovalsListCmd(c *cli, open openBackend) *cobra.Command {
	var (
		status     string
		functionID string
		runID      string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List approval requests, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := approval.Filter{
				Status:     approval.Status(status),
				FunctionID: functionID,
				RunID:      runID,
				Limit:      limit,
			}
			if filter.Status != "" && !filter.Status.Valid() {
				return newUsageError("unknown status %q", status)
			}
			backend, done, err := open()
			if err != nil {
				return err
			}
			defer done()

			list, err := backend.List(cmd.Context(), filter)
			if err != nil {
				return approvalError(err, "")
			}
			return printApprovals(cmd.OutOrStdout(), list, c.jsonOut)
		},
	}
	cmd.Flags().StringVar(&status, "status", "pending", "filter by status; empty for all")
	cmd.Flags().StringVar(&functionID, "function", "", "filter by function id")
	cmd.Flags().StringVar(&runID, "run", "", "filter by run id")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of requests")
	return cmd
}

func newApprovalsDecideCmd(c *cli, open openBackend, status approval.Status) *cobra.Command {
	var reason, output string
	use, short := "approve <id>", "Approve a pending request"
	if status == approval.StatusRejected {
		use, short = "reject <id>", "Reject a pending request"
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			decision := approval.Decision{Status: status, Reason: reason}
			if output != "" {
				raw, err := json.Marshal(decodePayload([]byte(output)))
				if err != nil {
					return newUsageError("--output: %v", err)
				}
				decision.Output = raw
			}
			backend, done, err := open()
			if err != nil {
				return err
			}
			defer done()

			record, err := backend.Decide(cmd.Context(), args[0], decision)
			if err != nil {
				return approvalError(err, args[0])
			}
			if c.jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(record)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "approval %s %s\n", record.ID, record.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded with the decision")
	if status == approval.StatusApproved {
		cmd.Flags().StringVar(&output, "output", "", "result returned by the human tier, JSON or text")
	}
	return cmd
}

func approvalError(err error, id string) error {
	var cliErr *CLIError
	switch {
	case goerrors.As(err, &cliErr):
		return cliErr
	case goerrors.Is(err, approval.ErrNotFound):
		return NewCLIError(errors.New(tier.Human, errors.CodeNotFound, false, "approval "+id+" not found", err),
			"list pending requests with cascade approvals list")
	case goerrors.Is(err, approval.ErrDecided):
		return NewCLIError(errors.New(tier.Human, errors.CodeValidationFailed, false, "approval "+id+" is no longer pending", err), "")
	}
	return NewCLIError(errors.New(tier.Human, errors.CodeInternal, false, "approval store failed", err), "")
}

func printApprovals(w io.Writer, list []*approval.Request, asJSON bool) error {
	if asJSON {
		if list == nil {
			list = []*approval.Request{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}
	if len(list) == 0 {
		fmt.Fprintln(w, "no approval requests")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFUNCTION\tSTATUS\tEXPIRES\tSUMMARY")
	for _, r := range list {
		expires := "-"
		if !r.ExpiresAt.IsZero() {
			expires = r.ExpiresAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.FunctionID, r.Status, expires, r.Summary)
	}
	return tw.Flush()
}

// httpApprovals talks to the /v1/approvals API of a running server.
type httpApprovals struct {
	base   string
	client *http.Client
}

func (h *httpApprovals) List(ctx context.Context, filter approval.Filter) ([]*approval.Request, error) {
	q := url.Values{}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	if filter.FunctionID != "" {
		q.Set("function_id", filter.FunctionID)
	}
	if filter.RunID != "" {
		q.Set("run_id", filter.RunID)
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	var body struct {
		Approvals []*approval.Request `json:"approvals"`
	}
	if err := h.do(ctx, http.MethodGet, "/v1/approvals?"+q.Encode(), nil, &body); err != nil {
		return nil, err
	}
	return body.Approvals, nil
}

func (h *httpApprovals) Decide(ctx context.Context, id string, decision approval.Decision) (*approval.Request, error) {
	action := "approve"
	if decision.Status == approval.StatusRejected {
		action = "reject"
	}
	payload := map[string]any{}
	if decision.Reason != "" {
		payload["reason"] = decision.Reason
	}
	if len(decision.Output) > 0 {
		payload["output"] = decision.Output
	}
	var record approval.Request
	if err := h.do(ctx, http.MethodPost, "/v1/approvals/"+url.PathEscape(id)+"/"+action, payload, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (h *httpApprovals) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, h.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return WrapConnectionError(err, h.base)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return json.NewDecoder(resp.Body).Decode(out)
	case http.StatusNotFound:
		return approval.ErrNotFound
	case http.StatusConflict:
		return approval.ErrDecided
	}
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(detail)))
}
