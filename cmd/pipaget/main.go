package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"github.com/alecthomas/kong"

	"github.com/ambiyansyah-risyal/pipa"
)

func main() {
	var cli struct {
		Retries     int           `default:"3" help:"Number of resends after the first attempt"`
		Timeout     time.Duration `default:"30s" help:"Total timeout per exchange"`
		Token       string        `env:"PIPA_TOKEN" help:"Bearer token attached to every request"`
		Scope       string        `default:"default" help:"Credential scope used for token caching"`
		AppID       string        `name:"app-id" help:"Application identifier prepended to the User-Agent"`
		Verbose     bool          `short:"v" help:"Log every attempt to stderr"`
		NoRedirects bool          `help:"Return 3xx responses instead of following them"`
		Version     bool          `help:"Print version information and exit"`

		URL []string `arg:"" optional:"" help:"URLs to fetch"`
	}

	cliCtx := kong.Parse(&cli, kong.UsageOnError())
	cliCtx.FatalIfErrorf(cliCtx.Error)

	if cli.Version {
		fmt.Println(pipa.GetVersion())
		return
	}
	if len(cli.URL) == 0 {
		cliCtx.Fatalf("expected at least one URL")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exitCode := 0
	for _, raw := range cli.URL {
		target, err := url.Parse(raw)
		if err != nil || !target.IsAbs() {
			cliCtx.Errorf("Invalid URL %q", raw)
			exitCode = 1
			continue
		}

		options := []pipa.Option{
			pipa.WithMaxRetries(cli.Retries),
			pipa.WithTimeout(cli.Timeout),
		}
		if cli.Token != "" {
			options = append(options,
				pipa.WithCredential(pipa.NewStaticTokenCredential(cli.Token), cli.Scope))
		}
		if cli.AppID != "" {
			options = append(options, pipa.WithApplicationID(cli.AppID))
		}
		if cli.Verbose {
			options = append(options, pipa.WithSimpleLogger())
		}
		if cli.NoRedirects {
			options = append(options, pipa.WithoutRedirects())
		}

		client, err := pipa.NewClient(target.Scheme+"://"+target.Host, options...)
		if err != nil {
			cliCtx.Errorf("Could not create client: %s", err.Error())
			exitCode = 1
			continue
		}

		if err := fetch(ctx, client, target); err != nil {
			cliCtx.Errorf("Could not fetch %s: %s", raw, err.Error())
			exitCode = 1
		}
	}

	os.Exit(exitCode)
}

func fetch(ctx context.Context, client *pipa.Client, target *url.URL) error {
	ctx, cancel := context.WithTimeout(ctx, time.Minute*5)
	defer cancel()

	resp, err := client.Get(ctx, target.RequestURI())
	if err != nil {
		return err
	}
	defer resp.Close()

	if resp.StatusCode >= 400 {
		payload, _ := resp.Payload()
		return fmt.Errorf("server answered %d: %s", resp.StatusCode, string(payload))
	}

	_, err = io.Copy(os.Stdout, resp.Body)
	return err
}
