package main

import (
	"fmt"
	"strconv"
	"strings"

	"ankicli/internal/anki"

	"github.com/spf13/cobra"
)

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check the connection to Anki",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, version, err := c.connect(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "Connected to Anki at %s (AnkiConnect v%d)\n", res.Anki.URL(), version)
			return nil
		},
	}
}

func (c *cli) decksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decks",
		Short: "List all decks with today's due counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, _, err := c.connect(cmd.Context())
			if err != nil {
				return err
			}
			decks, err := res.Anki.Decks(cmd.Context())
			if err != nil {
				return err
			}
			if len(decks) == 0 {
				fmt.Fprintln(c.stdout, "No decks found")
				return nil
			}
			rows := make([][]string, 0, len(decks))
			for _, d := range decks {
				rows = append(rows, []string{d.Name, strconv.Itoa(d.NewCount), strconv.Itoa(d.LearnCount), strconv.Itoa(d.ReviewCount), strconv.Itoa(d.Due())})
			}
			fmt.Fprintln(c.stdout, "Your Decks")
			fmt.Fprintln(c.stdout, renderTable([]string{"Deck", "New", "Learn", "Review", "Total Due"}, rows))
			return nil
		},
	}
}

func (c *cli) cardsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "cards <deck>",
		Short: "List cards in a deck",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, _, err := c.connect(cmd.Context())
			if err != nil {
				return err
			}
			deck := args[0]
			notes, err := res.Anki.DeckCards(cmd.Context(), deck, limit)
			if err != nil {
				return err
			}
			if len(notes) == 0 {
				fmt.Fprintf(c.stdout, "No cards found in '%s'\n", deck)
				return nil
			}
			fmt.Fprintf(c.stdout, "Cards in '%s'\n", deck)
			fmt.Fprintln(c.stdout, noteTable(notes))
			fmt.Fprintf(c.stdout, "Showing %d card(s)\n", len(notes))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 50, "maximum cards to show")
	return cmd
}

func (c *cli) addCmd() *cobra.Command {
	var (
		front, back, noteType string
		tags                  []string
	)
	cmd := &cobra.Command{
		Use:   "add <deck>",
		Short: "Add a card to a deck",
		Long: `Add one card to a deck. Front and back are prompted for when omitted.

Examples:
  ankicli add Spanish -f "<b>el gato</b>" -b "the cat" -t "word::el_gato animals"
  ankicli add Spanish`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, _, err := c.connect(cmd.Context())
			if err != nil {
				return err
			}
			deck := args[0]
			prompt := c.prompter()
			if strings.TrimSpace(front) == "" {
				if front, err = prompt.ReadLine("Front: "); err != nil {
					return err
				}
			}
			if strings.TrimSpace(back) == "" {
				if back, err = prompt.ReadLine("Back: "); err != nil {
					return err
				}
			}
			spec := anki.CardSpec{Front: front, Back: back, Tags: splitTags(tags)}
			out, err := res.Anki.AddNote(cmd.Context(), deck, noteType, spec)
			if err != nil {
				return err
			}
			switch out.Status {
			case anki.StatusCreated:
				fmt.Fprintf(c.stdout, "Card added (note ID: %d)\n\n", out.NoteID)
				c.recordAdded(res.Progress, front)
			case anki.StatusDuplicate:
				return fmt.Errorf("not added: duplicate of an existing note")
			default:
				return fmt.Errorf("not added: %s", out.Reason)
			}
			fmt.Fprintf(c.stdout, "Deck:  %s\n", deck)
			fmt.Fprintf(c.stdout, "Front: %s\n", preview(front, 50))
			fmt.Fprintf(c.stdout, "Back:  %s\n", preview(back, 50))
			if len(spec.Tags) > 0 {
				fmt.Fprintf(c.stdout, "Tags:  %s\n", strings.Join(spec.Tags, ", "))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&front, "front", "f", "", "card front content")
	cmd.Flags().StringVarP(&back, "back", "b", "", "card back content")
	cmd.Flags().StringSliceVarP(&tags, "tags", "t", nil, "tags (space or comma separated)")
	cmd.Flags().StringVarP(&noteType, "note-type", "n", anki.DefaultNoteType, "note type")
	return cmd
}

func (c *cli) bulkAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bulk-add <deck>",
		Short: "Add several cards interactively; an empty front finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, _, err := c.connect(cmd.Context())
			if err != nil {
				return err
			}
			deck := args[0]
			prompt := c.prompter()
			fmt.Fprintf(c.stdout, "Adding cards to '%s'\nEnter empty front to finish\n\n", deck)

			count := 0
			for {
				n := count + 1
				front, err := prompt.ReadLine(fmt.Sprintf("[%d] Front: ", n))
				if err != nil || strings.TrimSpace(front) == "" {
					break
				}
				back, err := prompt.ReadLine(fmt.Sprintf("[%d] Back: ", n))
				if err != nil {
					break
				}
				if strings.TrimSpace(back) == "" {
					fmt.Fprintln(c.stdout, "Skipping card with empty back")
					continue
				}
				tagLine, _ := prompt.ReadLine(fmt.Sprintf("[%d] Tags (optional): ", n))
				out, err := res.Anki.AddNote(cmd.Context(), deck, "", anki.CardSpec{Front: front, Back: back, Tags: strings.Fields(tagLine)})
				switch {
				case err != nil:
					fmt.Fprintf(c.stdout, "Error: %v\nContinuing...\n\n", err)
				case out.Status != anki.StatusCreated:
					fmt.Fprintf(c.stdout, "Not added (%s) %s\nContinuing...\n\n", out.Status, out.Reason)
				default:
					count++
					c.recordAdded(res.Progress, front)
					fmt.Fprintf(c.stdout, "Card %d added\n\n", count)
				}
			}
			fmt.Fprintf(c.stdout, "\nDone! Added %d card(s) to '%s'\n", count, deck)
			return nil
		},
	}
}

func (c *cli) searchCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search for cards with Anki search syntax",
		Long: `Search for cards. The query uses Anki search syntax,
e.g. 'deck:Spanish', 'tag:word::el_gato', 'front:*gato*'.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, _, err := c.connect(cmd.Context())
			if err != nil {
				return err
			}
			notes, err := res.Anki.Search(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if len(notes) == 0 {
				fmt.Fprintln(c.stdout, "No cards found")
				return nil
			}
			fmt.Fprintf(c.stdout, "Search Results: %s\n", args[0])
			fmt.Fprintln(c.stdout, noteTable(notes))
			fmt.Fprintf(c.stdout, "Found %d card(s)\n", len(notes))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "maximum results to show")
	return cmd
}

func (c *cli) noteTypesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "note-types",
		Short: "List available note types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, _, err := c.connect(cmd.Context())
			if err != nil {
				return err
			}
			types, err := res.Anki.NoteTypes(cmd.Context())
			if err != nil {
				return err
			}
			if len(types) == 0 {
				fmt.Fprintln(c.stdout, "No note types found")
				return nil
			}
			rows := make([][]string, 0, len(types))
			for _, nt := range types {
				rows = append(rows, []string{nt.Name, strings.Join(nt.Fields, ", ")})
			}
			fmt.Fprintln(c.stdout, "Note Types")
			fmt.Fprintln(c.stdout, renderTable([]string{"Name", "Fields"}, rows))
			return nil
		},
	}
}

func (c *cli) createDeckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create-deck <name>",
		Short: "Create a new deck",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, _, err := c.connect(cmd.Context())
			if err != nil {
				return err
			}
			id, err := res.Anki.CreateDeck(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "Deck '%s' created (ID: %d)\n", args[0], id)
			return nil
		},
	}
}

func (c *cli) syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Sync the collection with AnkiWeb",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, _, err := c.connect(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(c.stdout, "Syncing with AnkiWeb...")
			if err := res.Anki.Sync(cmd.Context()); err != nil {
				return fmt.Errorf("sync failed: %w", err)
			}
			fmt.Fprintln(c.stdout, "Sync complete")
			return nil
		},
	}
}

// prompter reads interactive answers from the command's stdin.
func (c *cli) prompter() lineInput {
	return newBasicLineInput(c.stdin, c.stdout)
}

type additionRecorder interface {
	RecordAdditions(words []string) error
}

func (c *cli) recordAdded(p additionRecorder, front string) {
	if p == nil {
		return
	}
	if err := p.RecordAdditions([]string{plainText(front)}); err != nil {
		c.logger.Warn("record addition failed", "error", err)
	}
}

// splitTags accepts both repeated flags and space separated values.
func splitTags(raw []string) []string {
	var out []string
	for _, t := range raw {
		out = append(out, strings.Fields(t)...)
	}
	return out
}
