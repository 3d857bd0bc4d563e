// Package sessioncmder provides the session command for recording agent
// conversations and committing them into long-term memory.
package sessioncmder

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/strata/cmd/strata/dbopen"
	"github.com/papercomputeco/strata/pkg/cliui"
	"github.com/papercomputeco/strata/pkg/dotdir"
	"github.com/papercomputeco/strata/pkg/session"
	"github.com/papercomputeco/strata/pkg/utils"
)

const sessionLongDesc string = `Record agent sessions and commit them into memory.

A session collects the messages of one conversation. Committing it extracts
durable memories (preferences, facts, patterns), merges them into the user
and agent memory directories and archives the session log.

Commands that take an optional session id default to the current session,
which "strata session new" sets and "strata session commit" clears.

Examples:
  strata session new --user alice
  strata session add user "I prefer table driven tests"
  strata session extract
  strata session commit`

func NewSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Record and commit agent sessions",
		Long:  sessionLongDesc,
	}

	cmd.AddCommand(newNewCmd())
	cmd.AddCommand(newAddCmd())
	cmd.AddCommand(newShowCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newExtractCmd())
	cmd.AddCommand(newCommitCmd())
	cmd.AddCommand(newDeleteCmd())
	cmd.AddCommand(newUseCmd())

	return cmd
}

// resolveID returns args[0] when given, otherwise the current session.
func resolveID(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	configDir, _ := cmd.Flags().GetString("config-dir")
	cur, err := dotdir.NewManager().LoadCurrentSession(configDir)
	if err != nil {
		return "", err
	}
	if cur == nil {
		return "", errors.New("no current session; pass a session id or run strata session new")
	}
	return cur.ID, nil
}

func setCurrent(cmd *cobra.Command, s *session.Session) error {
	configDir, _ := cmd.Flags().GetString("config-dir")
	return dotdir.NewManager().SaveCurrentSession(&dotdir.CurrentSession{
		ID:    s.ID,
		User:  s.User,
		Agent: s.Agent,
	}, configDir)
}

// clearCurrent drops the current pointer when it names id.
func clearCurrent(cmd *cobra.Command, id string) error {
	configDir, _ := cmd.Flags().GetString("config-dir")
	ddm := dotdir.NewManager()
	cur, err := ddm.LoadCurrentSession(configDir)
	if err != nil || cur == nil || cur.ID != id {
		return err
	}
	return ddm.ClearCurrentSession(configDir)
}

func newNewCmd() *cobra.Command {
	var user, agent string

	cmd := &cobra.Command{
		Use:   "new",
		Short: "Open a session and make it current",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, _, err := dbopen.Open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			s, err := db.NewSession(cmd.Context(), user, agent)
			if err != nil {
				return err
			}
			if err := setCurrent(cmd, s); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "  %s Session %s %s\n",
				cliui.SuccessMark,
				cliui.URIStyle.Render(s.ID),
				cliui.DimStyle.Render(fmt.Sprintf("(user %s, agent %s)", s.User, s.Agent)),
			)
			return nil
		},
	}

	dbopen.Register(cmd)
	cmd.Flags().StringVarP(&user, "user", "u", "", "User the session belongs to")
	cmd.Flags().StringVarP(&agent, "agent", "a", "", "Agent taking part in the session")
	return cmd
}

func newAddCmd() *cobra.Command {
	var (
		id      string
		context []string
	)

	cmd := &cobra.Command{
		Use:   "add <role> <text...>",
		Short: "Append a message to a session",
		Long: `Append a message to a session. The role is one of user, assistant,
system or tool. Use --context to attach the URIs of nodes the message used.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sid := id
			if sid == "" {
				var err error
				if sid, err = resolveID(cmd, nil); err != nil {
					return err
				}
			}

			parts := []session.Part{session.TextPart(strings.Join(args[1:], " "))}
			for _, c := range context {
				u, err := dbopen.ResolveURI(c)
				if err != nil {
					return err
				}
				parts = append(parts, session.Part{Type: session.PartContext, URI: u})
			}

			db, _, err := dbopen.Open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			if _, err := db.AddMessage(cmd.Context(), sid, args[0], parts...); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "  %s %s\n", cliui.SuccessMark, cliui.DimStyle.Render(sid))
			return nil
		},
	}

	dbopen.Register(cmd)
	cmd.Flags().StringVar(&id, "id", "", "Session id (default: the current session)")
	cmd.Flags().StringSliceVar(&context, "context", nil, "URIs of context used by this message")
	return cmd
}

func newShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [id]",
		Short: "Show a session and its messages",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := resolveID(cmd, args)
			if err != nil {
				return err
			}

			db, _, err := dbopen.Open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			s, err := db.GetSession(cmd.Context(), id)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "\n  %s  %s\n", cliui.KeyStyle.Render("Session:"), cliui.URIStyle.Render(s.ID))
			fmt.Fprintf(w, "  %s  %s\n", cliui.KeyStyle.Render("Status: "), s.Status)
			fmt.Fprintf(w, "  %s  %s / %s\n\n", cliui.KeyStyle.Render("Owner:  "), s.User, s.Agent)

			for i, m := range s.Messages {
				for _, p := range m.Parts {
					text := p.Text
					if p.Type != session.PartText {
						text = fmt.Sprintf("[%s] %s%s", p.Type, p.URI, p.ToolName)
					}
					fmt.Fprintf(w, "  %s %s %s\n",
						cliui.DimStyle.Render(fmt.Sprintf("%d.", i+1)),
						cliui.RoleStyle.Render("["+m.Role+"]"),
						cliui.ValueStyle.Render(utils.Truncate(text, 72)),
					)
				}
			}
			for _, u := range s.MemoryURIs {
				fmt.Fprintf(w, "  %s %s\n", cliui.KeyStyle.Render("memory"), cliui.URIStyle.Render(u))
			}
			fmt.Fprintln(w)
			return nil
		},
	}

	dbopen.Register(cmd)
	return cmd
}

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, _, err := dbopen.Open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			sessions, err := db.ListSessions(cmd.Context())
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if len(sessions) == 0 {
				fmt.Fprintln(w, "No sessions.")
				return nil
			}
			for _, s := range sessions {
				fmt.Fprintf(w, "  %s  %-9s %s/%s  %s\n",
					cliui.URIStyle.Render(s.ID),
					s.Status,
					s.User, s.Agent,
					cliui.DimStyle.Render(fmt.Sprintf("%d messages", len(s.Messages))),
				)
			}
			return nil
		},
	}

	dbopen.Register(cmd)
	return cmd
}

func newExtractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract [id]",
		Short: "Preview the memories a commit would extract",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := resolveID(cmd, args)
			if err != nil {
				return err
			}

			db, _, err := dbopen.Open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			candidates, err := db.Extract(cmd.Context(), id)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if len(candidates) == 0 {
				fmt.Fprintln(w, "No memories found.")
				return nil
			}
			for _, c := range candidates {
				fmt.Fprintf(w, "  %s %s\n", cliui.KeyStyle.Render("["+string(c.Type)+"]"), cliui.ValueStyle.Render(c.Title))
				fmt.Fprintf(w, "      %s\n", cliui.DimStyle.Render(utils.Truncate(c.Content, 96)))
			}
			return nil
		},
	}

	dbopen.Register(cmd)
	return cmd
}

func newCommitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "commit [id]",
		Short: "Commit a session into memory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := resolveID(cmd, args)
			if err != nil {
				return err
			}

			db, _, err := dbopen.Open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			w := cmd.OutOrStdout()
			var res *session.CommitResult
			err = cliui.Step(w, "Committing "+id, func() error {
				var err error
				res, err = db.Commit(cmd.Context(), id)
				return err
			})
			if err != nil {
				return err
			}
			if err := clearCurrent(cmd, id); err != nil {
				return err
			}

			for _, u := range res.MemoryURIs {
				fmt.Fprintf(w, "  %s %s\n", cliui.KeyStyle.Render("memory"), cliui.URIStyle.Render(u))
			}
			fmt.Fprintf(w, "  %s %s\n", cliui.KeyStyle.Render("archive"), cliui.URIStyle.Render(res.ArchiveURI))
			return nil
		},
	}

	dbopen.Register(cmd)
	return cmd
}

func newDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an open session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _, err := dbopen.Open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.DeleteSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			if err := clearCurrent(cmd, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "  %s deleted %s\n", cliui.SuccessMark, args[0])
			return nil
		},
	}

	dbopen.Register(cmd)
	return cmd
}

func newUseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "use <id>",
		Short: "Make an existing session current",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _, err := dbopen.Open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			s, err := db.GetSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if s.Status != session.StatusOpen {
				return fmt.Errorf("session %s is %s", s.ID, s.Status)
			}
			return setCurrent(cmd, s)
		},
	}

	dbopen.Register(cmd)
	return cmd
}
