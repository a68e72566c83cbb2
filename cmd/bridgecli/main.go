package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	flags "github.com/jessevdk/go-flags"

	"github.com/core-tools/site-analyzer-coordinator/pkg/control"
	"github.com/core-tools/site-analyzer-coordinator/pkg/coordinator"
	"github.com/core-tools/site-analyzer-coordinator/pkg/errors"
	"github.com/core-tools/site-analyzer-coordinator/pkg/gateway"
	"github.com/core-tools/site-analyzer-coordinator/pkg/logging"
	"github.com/core-tools/site-analyzer-coordinator/pkg/monitoring"
	"github.com/core-tools/site-analyzer-coordinator/pkg/processfile"
)

type flagOptions struct {
	Port        int    `long:"port" description:"coordinator control port (read from the port file when omitted)"`
	AppName     string `long:"app-name" default:"site-analyzer" description:"application name used to locate the port file"`
	Site        string `long:"site" description:"domain to analyze"`
	Page        string `long:"page" description:"single page URL to analyze"`
	MaxCount    int    `long:"max-count" description:"maximum number of pages to count"`
	MaxAnalyze  int    `long:"max-analyze" description:"maximum number of pages to analyze"`
	Wait        int    `long:"wait" description:"seconds to wait for the coordinator to publish its port"`
	PingRetries int    `long:"ping-retries" default:"10" description:"health check attempts before giving up"`
	Raw         bool   `long:"raw" description:"print the raw JSON response"`
}

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s-client , ", module)
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	_, err := parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	if opts.Site == "" && opts.Page == "" {
		fmt.Println("Site or page is required")
		os.Exit(1)
	}

	baseLogger, zapLogger, err := logging.NewZapLogger(logging.DefaultZapConfig())
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer zapLogger.Sync()
	logger := logging.WithPrefix(baseLogger, logPrefix("bridge"))

	logger.Infof("opts: %+v", opts)

	ctx := context.Background()

	port := opts.Port
	if port == 0 {
		port, err = publishedPort(ctx, opts, logger)
		if err != nil {
			logger.Errorf("Control port not given and not published: %v", err)
			os.Exit(1)
		}
	}

	if err := waitServing(ctx, port, opts.PingRetries, logger); err != nil {
		logger.Errorf("Coordinator is not serving: %v", err)
		os.Exit(1)
	}

	conn, err := control.Dial(ctx, port, control.DefaultDialTimeout)
	if err != nil {
		logger.Errorf("Failed to connect: %v", err)
		os.Exit(1)
	}
	defer conn.Close()

	contract := control.NewGRPCClientGateway(conn, logger)

	var body json.RawMessage
	if opts.Site != "" {
		body, err = contract.AnalyzeWebsite(ctx, opts.Site, optionalLimit(opts.MaxCount), optionalLimit(opts.MaxAnalyze))
	} else {
		body, err = contract.AnalyzeSinglePage(ctx, opts.Page)
	}
	if err != nil {
		report(err)
		os.Exit(2)
	}

	if opts.Raw {
		fmt.Println(string(body))
		return
	}
	if opts.Site != "" {
		printWebsite(body)
	} else {
		printPage(body)
	}
}

func publishedPort(ctx context.Context, opts flagOptions, logger logging.Logger) (int, error) {
	files := processfile.NewManager(processfile.Config{AppName: opts.AppName}, logger)
	if opts.Wait <= 0 {
		return files.ReadPortFile(coordinator.PortFileName)
	}
	ctx, cancel := context.WithTimeout(ctx, time.Duration(opts.Wait)*time.Second)
	defer cancel()
	return files.WaitPortFile(ctx, coordinator.PortFileName)
}

func waitServing(ctx context.Context, port int, attempts int, logger logging.Logger) error {
	prober := monitoring.NewGRPCProber(monitoring.GRPCProbeConfig{
		Address: net.JoinHostPort(control.DefaultHost, strconv.Itoa(port)),
		Service: control.ServiceName,
	}, 2*time.Second)

	if attempts < 1 {
		attempts = 1
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Second), uint64(attempts-1)), ctx)

	return backoff.RetryNotify(func() error {
		return prober.Probe(ctx)
	}, policy, func(err error, next time.Duration) {
		logger.Infof("Coordinator not serving yet, retrying in %v: %v", next, err)
	})
}

func optionalLimit(value int) *int {
	if value <= 0 {
		return nil
	}
	return &value
}

func report(err error) {
	classified := errors.Classify(err)
	fmt.Printf("Analysis failed (%s, status %d):\n%s\n", classified.Kind, classified.StatusCode, classified.UserMessage())
}

func printWebsite(body json.RawMessage) {
	var analysis gateway.WebsiteAnalysis
	if err := json.Unmarshal(body, &analysis); err != nil {
		fmt.Println(string(body))
		return
	}
	fmt.Printf("Domain: %s\n", analysis.Domain)
	fmt.Printf("Pages found: %d, analyzed: %d\n", analysis.TotalPages, analysis.AnalyzedPages)
	for _, page := range analysis.Pages {
		printPageSummary(page)
	}
}

func printPage(body json.RawMessage) {
	var page gateway.PageAnalysis
	if err := json.Unmarshal(body, &page); err != nil {
		fmt.Println(string(body))
		return
	}
	printPageSummary(page)
}

func printPageSummary(page gateway.PageAnalysis) {
	fmt.Printf("\n%s\n", page.URL)
	fmt.Printf("  title: %q (%d chars)\n", page.MetaTitle.Content, page.MetaTitle.ContentLength)
	fmt.Printf("  description: %d chars\n", page.MetaDescription.ContentLength)
	fmt.Printf("  external links: %d across %d domains, social: %d\n",
		len(page.ExternalLinks), len(page.ExternalDomains), len(page.SocialLinks))
	for _, level := range []string{"h1", "h2", "h3", "h4", "h5", "h6"} {
		if count := page.HeadingCounts[level]; count > 0 {
			fmt.Printf("  %s: %d\n", level, count)
		}
	}
}
