// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/jllopis/kairos-cascade/pkg/resilience"
	"github.com/jllopis/kairos-cascade/pkg/tier"
)

type statusResult struct {
	Version       string                           `json:"version"`
	GRPCAddr      string                           `json:"grpc_addr"`
	GRPCReachable bool                             `json:"grpc_reachable"`
	Services      []serviceStatus                  `json:"services,omitempty"`
	HTTPURL       string                           `json:"http_url"`
	HTTPReachable bool                             `json:"http_reachable"`
	Breakers      []resilience.CircuitBreakerStats `json:"breakers,omitempty"`
	Error         string                           `json:"error,omitempty"`
}

type serviceStatus struct {
	Service string `json:"service"`
	Status  string `json:"status"`
}

func newStatusCmd(c *cli) *cobra.Command {
	var (
		grpcAddr string
		httpURL  string
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query a running server for tier health and breaker state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if grpcAddr == "" {
				grpcAddr = dialAddr(c.cfg.Server.GRPCAddr)
			}
			if httpURL == "" {
				httpURL = "http://" + dialAddr(c.cfg.Server.HTTPAddr)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			res := statusResult{Version: version, GRPCAddr: grpcAddr, HTTPURL: httpURL}
			var errs []string
			if err := checkGRPCHealth(ctx, &res); err != nil {
				errs = append(errs, err.Error())
			}
			if err := fetchBreakers(ctx, &res); err != nil {
				errs = append(errs, err.Error())
			}
			res.Error = strings.Join(errs, "; ")

			if err := printStatus(cmd.OutOrStdout(), res, c.jsonOut); err != nil {
				return err
			}
			if !res.GRPCReachable && !res.HTTPReachable {
				return WrapConnectionError(fmt.Errorf("%s", res.Error), grpcAddr)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&grpcAddr, "grpc-addr", "", "gRPC health address (defaults to server.grpc_addr)")
	cmd.Flags().StringVar(&httpURL, "http-url", "", "HTTP base URL (defaults to server.http_addr)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "timeout for each probe")
	return cmd
}

// dialAddr turns a listen address such as ":8080" into a dialable one.
func dialAddr(listen string) string {
	if strings.HasPrefix(listen, ":") {
		return "localhost" + listen
	}
	return listen
}

func checkGRPCHealth(ctx context.Context, res *statusResult) error {
	conn, err := grpc.NewClient(res.GRPCAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("grpc: %w", err)
	}
	defer conn.Close()

	client := healthpb.NewHealthClient(conn)
	for _, service := range append([]string{""}, tierNames()...) {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		if err != nil {
			if service == "" {
				return fmt.Errorf("grpc health: %w", err)
			}
			continue
		}
		res.GRPCReachable = true
		name := service
		if name == "" {
			name = "overall"
		}
		res.Services = append(res.Services, serviceStatus{Service: name, Status: resp.GetStatus().String()})
	}
	return nil
}

func tierNames() []string {
	order := tier.EscalationOrder()
	out := make([]string, len(order))
	for i, t := range order {
		out[i] = string(t)
	}
	return out
}

func fetchBreakers(ctx context.Context, res *statusResult) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(res.HTTPURL, "/")+"/v1/breakers", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()
	res.HTTPReachable = true
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http breakers: status %d", resp.StatusCode)
	}
	var body struct {
		Breakers []resilience.CircuitBreakerStats `json:"breakers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode breakers: %w", err)
	}
	res.Breakers = body.Breakers
	return nil
}

func printStatus(w io.Writer, res statusResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "version\t%s\n", res.Version)
	fmt.Fprintf(tw, "grpc\t%s\t%s\n", res.GRPCAddr, reachable(res.GRPCReachable))
	for _, s := range res.Services {
		fmt.Fprintf(tw, "  %s\t%s\n", s.Service, s.Status)
	}
	fmt.Fprintf(tw, "http\t%s\t%s\n", res.HTTPURL, reachable(res.HTTPReachable))
	for _, b := range res.Breakers {
		fmt.Fprintf(tw, "  %s\t%s\tfailures=%d opened=%d\n", b.Name, b.State, b.Failures, b.TimesOpened)
	}
	if res.Error != "" {
		fmt.Fprintf(tw, "errors\t%s\n", res.Error)
	}
	return tw.Flush()
}

func reachable(ok bool) string {
	if ok {
		return "reachable"
	}
	return "unreachable"
}
