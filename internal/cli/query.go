package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/canonica-labs/fedra/internal/config"
	"github.com/canonica-labs/fedra/internal/endpoint"
	"github.com/canonica-labs/fedra/internal/engine"
	"github.com/canonica-labs/fedra/internal/errors"
	"github.com/canonica-labs/fedra/internal/results"
)

func (c *CLI) newQueryCmd() *cobra.Command {
	var (
		queryArg  string
		formatArg string
		outFolder string
	)

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run a SPARQL query against the federation",
		Long: `Runs a SPARQL SELECT query against the configured federation members.
The query is given inline with -q, or read from a file with -q @file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if queryArg == "" {
				return errors.NewConfig("query", "no query given; use -q '<sparql>' or -q @file")
			}
			text, err := loadQueryText(queryArg)
			if err != nil {
				return err
			}
			format, err := results.ParseFormat(formatArg)
			if err != nil {
				return err
			}
			return c.runQuery(cmd.Context(), text, format, outFolder)
		},
	}

	cmd.Flags().StringVarP(&queryArg, "query", "q", "", "SPARQL query text, or @file to read from a file")
	cmd.Flags().StringVarP(&formatArg, "format", "f", "JSON", "result format (JSON, XML, TSV)")
	cmd.Flags().StringVar(&outFolder, "folder", "", "write results to this folder instead of stdout")
	return cmd
}

func loadQueryText(arg string) (string, error) {
	if !strings.HasPrefix(arg, "@") {
		return arg, nil
	}
	data, err := os.ReadFile(strings.TrimPrefix(arg, "@"))
	if err != nil {
		return "", errors.NewConfig("query", fmt.Sprintf("reading query file: %v", err))
	}
	return string(data), nil
}

// buildFederation assembles the manager from the members file and any ad
// hoc endpoint URLs.
func (c *CLI) buildFederation(ctx context.Context) (*engine.Manager, *config.Config, error) {
	cfg, err := config.Load(c.enginePath)
	if err != nil {
		return nil, nil, err
	}

	members := &config.Members{}
	if c.membersPath != "" {
		ms, err := config.LoadMembers(c.membersPath)
		if err != nil {
			return nil, nil, err
		}
		members = ms
	}
	for i, u := range c.sparqlURLs {
		members.Members = append(members.Members, config.Member{
			ID:       fmt.Sprintf("sparql%d", i),
			Name:     u,
			Type:     config.MemberSparqlEndpoint,
			Location: u,
		})
	}
	if len(members.Members) == 0 {
		return nil, nil, errors.NewConfig("members", "no federation members; use -d <members.yaml> or -s <url>")
	}

	registry, err := endpoint.NewRegistryFromMembers(members, endpoint.Options{
		RequestTimeout:     time.Duration(cfg.EnforceMaxQueryTime) * time.Second,
		RemoteMaxQueryTime: cfg.MaxQueryTime(),
	})
	if err != nil {
		return nil, nil, err
	}

	mgr, err := engine.New(cfg, registry, nil)
	if err != nil {
		return nil, nil, err
	}
	if err := mgr.Initialize(ctx); err != nil {
		mgr.Shutdown(ctx)
		return nil, nil, err
	}
	return mgr, cfg, nil
}

func (c *CLI) runQuery(ctx context.Context, text string, format results.Format, outFolder string) error {
	mgr, _, err := c.buildFederation(ctx)
	if err != nil {
		return err
	}
	defer mgr.Shutdown(ctx)

	q, err := mgr.PrepareQuery(text)
	if err != nil {
		return err
	}
	res, err := mgr.Evaluate(ctx, q)
	if err != nil {
		return err
	}

	out, cleanup, err := openOutput(outFolder, format)
	if err != nil {
		res.Close()
		return err
	}
	defer cleanup()

	writeErr := results.Write(ctx, out, format, res.Vars(), res)
	closeErr := res.Close()
	switch {
	case writeErr != nil:
		return writeErr
	case closeErr != nil:
		return closeErr
	}
	if res.Cancelled() {
		fmt.Fprintln(os.Stderr, "query cancelled; partial results discarded")
	}
	return nil
}

// openOutput returns the result writer: stdout, or a file in the folder.
func openOutput(folder string, format results.Format) (io.Writer, func(), error) {
	if folder == "" {
		return os.Stdout, func() {}, nil
	}
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return nil, nil, errors.NewConfig("folder", err.Error())
	}
	name := filepath.Join(folder, fmt.Sprintf("result-%d.%s", time.Now().Unix(), format.Extension()))
	f, err := os.Create(name)
	if err != nil {
		return nil, nil, errors.NewConfig("folder", err.Error())
	}
	return f, func() { f.Close() }, nil
}
