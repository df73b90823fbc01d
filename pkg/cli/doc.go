/*
Package cli provides command-line helpers for the sieve command.

Output Formatting:

Command results render as text, JSON, JSON Lines or CSV. Results that
implement Tabular render as aligned columns in text mode and as rows in CSV
mode:

	formatter := cli.NewFormatter(cli.FormatJSON)
	if err := formatter.FormatTo(os.Stdout, results); err != nil {
		return err
	}

Progress Reporting:

	progress := cli.NewProgressReporter(os.Stderr, "modules")
	progress.Start(int64(len(files)))
	for i, f := range files {
		check(f)
		progress.Update(int64(i + 1))
	}
	progress.Finish()

Signal Handling:

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()
*/
package cli
