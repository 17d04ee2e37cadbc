package journalcmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jiechenghan/nifi/internal/journal"
	"github.com/jiechenghan/nifi/internal/journal/toc"
	"github.com/jiechenghan/nifi/internal/kms"
	"github.com/jiechenghan/nifi/pkg/log"
)

// passphraseEnv is consulted for the keystore passphrase so it never has to
// appear in argv.
const passphraseEnv = "NIFI_PROV_KEYSTORE_PASSPHRASE"

// NewJournalCommand builds the "journal" command group.
func NewJournalCommand(logger log.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect provenance journal files",
	}
	cmd.AddCommand(newDumpCommand(logger))
	cmd.AddCommand(newVerifyCommand(logger))
	cmd.AddCommand(newTOCCommand())
	return cmd
}

// readerFlags is the plumbing shared by dump and verify: locating the TOC
// and building a decrypting codec from keystore flags.
type readerFlags struct {
	tocPath           string
	keystorePath      string
	skipUndecryptable bool
}

func (rf *readerFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&rf.tocPath, "toc", "", "TOC file path (default: journal path with .toc extension)")
	cmd.Flags().StringVar(&rf.keystorePath, "keystore", "", "Keystore file for decrypting records ("+passphraseEnv+" must hold the passphrase)")
	cmd.Flags().BoolVar(&rf.skipUndecryptable, "skip-undecryptable", false, "Skip records that fail to decrypt instead of aborting")
}

func (rf *readerFlags) openTOC(journalPath string) *toc.Reader {
	path := rf.tocPath
	if path == "" {
		path = strings.TrimSuffix(journalPath, ".prov") + ".toc"
	}
	tr, err := toc.OpenReader(path)
	if err != nil {
		return nil
	}
	return tr
}

func (rf *readerFlags) codec() (journal.RecordCodec, error) {
	if rf.keystorePath == "" {
		return &journal.PlainCodec{}, nil
	}
	pass := os.Getenv(passphraseEnv)
	if pass == "" {
		return nil, fmt.Errorf("%s is not set", passphraseEnv)
	}
	keys, err := kms.NewFileKeyProvider(rf.keystorePath, []byte(pass))
	if err != nil {
		return nil, err
	}
	return &journal.EncryptingCodec{
		Inner:     &journal.PlainCodec{},
		Decryptor: kms.NewAESGCMDecryptor(keys),
	}, nil
}

// NewKeystoreCommand builds the "keystore" command group.
func NewKeystoreCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keystore",
		Short: "Manage the encryption keystore",
	}
	var keyIDs []string
	create := &cobra.Command{
		Use:   "create <path>",
		Short: "Create a keystore with fresh random keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pass := os.Getenv(passphraseEnv)
			if pass == "" {
				return fmt.Errorf("%s is not set", passphraseEnv)
			}
			if len(keyIDs) == 0 {
				keyIDs = []string{"key-1"}
			}
			if err := kms.CreateFileKeystore(args[0], []byte(pass), keyIDs...); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "keystore %s created with keys: %s\n", args[0], strings.Join(keyIDs, ", "))
			return nil
		},
	}
	create.Flags().StringSliceVar(&keyIDs, "key-id", nil, "Key id(s) to generate (default key-1)")
	cmd.AddCommand(create)
	return cmd
}
