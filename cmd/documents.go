package cmd

import (
	"errors"

	"github.com/spf13/cobra"
)

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "Manage indexed documents",
}

var documentsListLimit int32

var documentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List indexed documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setupApp(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		docs, err := a.Knowledge.List(cmd.Context(), documentsListLimit)
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			cmd.Println("No documents indexed.")
			return nil
		}
		for _, doc := range docs {
			label := doc.Metadata["file_name"]
			if label == "" {
				label = "(no file)"
			}
			cmd.Printf("%s  %s  %s  %d chars\n",
				doc.ID, doc.CreatedAt.Format("2006-01-02 15:04"), label, len(doc.Content))
		}
		return nil
	},
}

var documentsCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Count indexed documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setupApp(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		n, err := a.Knowledge.Count(cmd.Context())
		if err != nil {
			return err
		}
		cmd.Printf("%d document(s)\n", n)
		return nil
	},
}

var documentsDeleteSource string

var documentsDeleteCmd = &cobra.Command{
	Use:   "delete [document-id]",
	Short: "Delete one indexed document, or all chunks of a source file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if (len(args) == 0) == (documentsDeleteSource == "") {
			return errors.New("provide either a document id or --source")
		}

		a, err := setupApp(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		if documentsDeleteSource != "" {
			n, err := a.Knowledge.DeleteBySource(cmd.Context(), documentsDeleteSource)
			if err != nil {
				return err
			}
			cmd.Printf("Deleted %d chunk(s) of %s\n", n, documentsDeleteSource)
			return nil
		}

		if err := a.Knowledge.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		cmd.Printf("Deleted %s\n", args[0])
		return nil
	},
}

func init() {
	documentsListCmd.Flags().Int32Var(&documentsListLimit, "limit", 100, "maximum documents to list")
	documentsDeleteCmd.Flags().StringVar(&documentsDeleteSource, "source", "", "delete every chunk ingested from this file")
	documentsCmd.AddCommand(documentsListCmd, documentsCountCmd, documentsDeleteCmd)
	rootCmd.AddCommand(documentsCmd)
}
