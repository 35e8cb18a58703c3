/*
Package cli provides helpers shared by the relay command.

Errors:

Commands wrap failures so the process exit status tells configuration
problems apart from runtime failures:

	if err := config.Validate(cfg); err != nil {
		return cli.NewConfigError(cfgFile, err)
	}
	if err := srv.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}

	os.Exit(cli.ExitCode(err))

Signal Handling:

For graceful shutdown on SIGINT/SIGTERM:

	ctx, stop := cli.NotifyContext(context.Background())
	defer stop()
*/
package cli
