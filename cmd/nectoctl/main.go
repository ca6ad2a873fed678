package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/alecthomas/kong"

	"necto/pkg/job"
)

var cli struct {
	Server string `help:"Necto daemon address." env:"NECTO_SERVER" default:"http://localhost:8080"`

	Route     RouteCmd     `cmd:"" help:"Route a job to the best available provider."`
	Providers ProvidersCmd `cmd:"" help:"List marketplace providers."`
	Bids      BidsCmd      `cmd:"" help:"List open bids for a deployment."`
	Accept    AcceptCmd    `cmd:"" help:"Accept a bid on a deployment."`
	Close     CloseCmd     `cmd:"" help:"Close a deployment."`
	Attempts  AttemptsCmd  `cmd:"" help:"List recent routing attempts."`
}

type cliContext struct {
	server string
	client *http.Client
}

// RouteCmd submits a job requirement to the daemon for routing.
type RouteCmd struct {
	File          string  `arg:"" help:"Path to a JSON job requirement file, or - for stdin."`
	Buyer         string  `help:"Buyer wallet address for escrow payment."`
	Amount        uint64  `help:"Escrow amount in base token units."`
	Tracked       bool    `help:"Register the job as tracked on chain."`
	Manual        bool    `help:"Leave the deployment open for manual bid acceptance."`
	TimeoutMs     int64   `help:"Bid wait timeout in milliseconds."`
	MaxPricePerHr float64 `help:"Override the requirement price ceiling."`
}

func (r *RouteCmd) Run(ctx *cliContext) error {
	var data []byte
	var err error
	if r.File == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(r.File)
	}
	if err != nil {
		return fmt.Errorf("failed to read requirement: %w", err)
	}

	var req job.Requirement
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("failed to parse requirement: %w", err)
	}
	if r.MaxPricePerHr > 0 {
		req.MaxPricePerHr = r.MaxPricePerHr
	}

	body := map[string]any{
		"requirement":   req,
		"buyer":         r.Buyer,
		"paymentAmount": r.Amount,
		"tracked":       r.Tracked,
		"autoAcceptBid": !r.Manual,
	}
	if r.TimeoutMs > 0 {
		body["timeoutMs"] = r.TimeoutMs
	}

	return ctx.call(http.MethodPost, "/v1/jobs/route", body)
}

// ProvidersCmd lists marketplace providers visible to the daemon.
type ProvidersCmd struct{}

func (p *ProvidersCmd) Run(ctx *cliContext) error {
	return ctx.call(http.MethodGet, "/v1/providers", nil)
}

// BidsCmd lists open bids for a deployment.
type BidsCmd struct {
	Deployment string `arg:"" help:"Deployment ID."`
}

func (b *BidsCmd) Run(ctx *cliContext) error {
	return ctx.call(http.MethodGet, "/v1/deployments/"+b.Deployment+"/bids", nil)
}

// AcceptCmd accepts a specific bid on a deployment.
type AcceptCmd struct {
	Deployment string `arg:"" help:"Deployment ID."`
	Bid        string `arg:"" help:"Bid ID."`
}

func (a *AcceptCmd) Run(ctx *cliContext) error {
	return ctx.call(http.MethodPost, "/v1/deployments/"+a.Deployment+"/bids/"+a.Bid+"/accept", nil)
}

// CloseCmd closes a deployment. Closing an already-closed deployment succeeds.
type CloseCmd struct {
	Deployment string `arg:"" help:"Deployment ID."`
}

func (c *CloseCmd) Run(ctx *cliContext) error {
	return ctx.call(http.MethodDelete, "/v1/deployments/"+c.Deployment, nil)
}

// AttemptsCmd lists recent routing attempts recorded by the daemon.
type AttemptsCmd struct {
	ID string `arg:"" optional:"" help:"Show a single attempt by ID."`
}

func (a *AttemptsCmd) Run(ctx *cliContext) error {
	path := "/v1/attempts"
	if a.ID != "" {
		path += "/" + a.ID
	}
	return ctx.call(http.MethodGet, path, nil)
}

func (c *cliContext) call(method, path string, body any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.server+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		fmt.Println(string(data))
	} else {
		fmt.Println(pretty.String())
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("nectoctl"),
		kong.Description("Control client for the Necto job routing daemon."),
		kong.UsageOnError(),
	)

	err := ctx.Run(&cliContext{
		server: cli.Server,
		client: &http.Client{Timeout: 10 * time.Minute},
	})
	ctx.FatalIfErrorf(err)
}
