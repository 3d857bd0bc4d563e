// Package skillcmder provides the skill command for managing agent skills.
package skillcmder

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/strata/cmd/strata/dbopen"
	"github.com/papercomputeco/strata/pkg/cliui"
	"github.com/papercomputeco/strata/pkg/dotdir"
	"github.com/papercomputeco/strata/pkg/skill"
	"github.com/papercomputeco/strata/pkg/utils"
)

const skillLongDesc string = `Manage the skills stored for an agent.

Skills are SKILL.md documents (frontmatter plus markdown instructions) kept
under strata://agent/<agent>/skills. They are summarized, indexed and
retrieved like any other node.

Examples:
  strata skill add ./SKILL.md --agent coder
  strata skill generate --name deploy-service --session <id>
  strata skill ls --agent coder
  strata skill show agent/coder/skills/deploy-service`

func NewSkillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skill",
		Short: "Manage agent skills",
		Long:  skillLongDesc,
	}

	cmd.AddCommand(newAddCmd())
	cmd.AddCommand(newGenerateCmd())
	cmd.AddCommand(newLsCmd())
	cmd.AddCommand(newShowCmd())

	return cmd
}

func newAddCmd() *cobra.Command {
	var (
		agent   string
		replace bool
	)

	cmd := &cobra.Command{
		Use:   "add <file|->",
		Short: "Store a SKILL.md document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}

			db, _, err := dbopen.Open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			u, err := db.ImportSkill(cmd.Context(), agent, string(data), replace)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "  %s %s\n", cliui.SuccessMark, cliui.URIStyle.Render(u))
			return nil
		},
	}

	dbopen.Register(cmd)
	cmd.Flags().StringVarP(&agent, "agent", "a", "", "Agent the skill belongs to (default: default)")
	cmd.Flags().BoolVar(&replace, "replace", false, "Overwrite a skill of the same name")
	return cmd
}

func newGenerateCmd() *cobra.Command {
	var (
		name      string
		skillType string
		sessions  []string
		replace   bool
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Distill a skill from recorded sessions",
		Long: `Distill a reusable skill from one or more sessions with the configured LLM.
The skill is stored for the agent of the first session. Without --session the
current session is used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if name == "" {
				return errors.New("--name is required")
			}
			if len(sessions) == 0 {
				configDir, _ := cmd.Flags().GetString("config-dir")
				cur, err := dotdir.NewManager().LoadCurrentSession(configDir)
				if err != nil {
					return err
				}
				if cur == nil {
					return errors.New("no current session; pass --session")
				}
				sessions = []string{cur.ID}
			}

			db, _, err := dbopen.Open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			w := cmd.OutOrStdout()
			var u string
			err = cliui.Step(w, "Generating skill "+name, func() error {
				var err error
				u, err = db.GenerateSkill(cmd.Context(), sessions, name, skillType, replace)
				return err
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "  %s %s\n", cliui.KeyStyle.Render("skill"), cliui.URIStyle.Render(u))
			return nil
		},
	}

	dbopen.Register(cmd)
	cmd.Flags().StringVarP(&name, "name", "n", "", "Skill name")
	cmd.Flags().StringVarP(&skillType, "type", "t", "workflow", "Skill type ("+strings.Join(skill.SkillTypes, ", ")+")")
	cmd.Flags().StringSliceVarP(&sessions, "session", "s", nil, "Session ids to distill from")
	cmd.Flags().BoolVar(&replace, "replace", false, "Overwrite a skill of the same name")
	return cmd
}

func newLsCmd() *cobra.Command {
	var (
		agent  string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List an agent's skills",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, _, err := dbopen.Open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			skills, err := db.Skills(cmd.Context(), agent)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(skills)
			}
			if len(skills) == 0 {
				fmt.Fprintln(w, "No skills.")
				return nil
			}
			for _, sk := range skills {
				fmt.Fprintf(w, "  %s %s\n", cliui.KeyStyle.Render(sk.Name), cliui.DimStyle.Render("["+sk.Type+"]"))
				if sk.Description != "" {
					fmt.Fprintf(w, "      %s\n", utils.Truncate(sk.Description, 96))
				}
			}
			return nil
		},
	}

	dbopen.Register(cmd)
	cmd.Flags().StringVarP(&agent, "agent", "a", "", "Agent whose skills to list (default: default)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newShowCmd() *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "show <uri>",
		Short: "Print a skill",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := dbopen.ResolveURI(args[0])
			if err != nil {
				return err
			}

			db, _, err := dbopen.Open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			sk, err := db.Skill(cmd.Context(), u)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if raw {
				fmt.Fprint(w, skill.Render(sk))
				return nil
			}
			fmt.Fprintf(w, "\n  %s  %s\n", cliui.HeaderStyle.Render(sk.Name), cliui.DimStyle.Render(sk.Type+" v"+sk.Version))
			if sk.Description != "" {
				fmt.Fprintf(w, "  %s\n", sk.Description)
			}
			rendered, err := cliui.RenderMarkdown(sk.Content)
			if err != nil {
				rendered = sk.Content + "\n"
			}
			fmt.Fprint(w, rendered)
			return nil
		},
	}

	dbopen.Register(cmd)
	cmd.Flags().BoolVar(&raw, "raw", false, "Print the SKILL.md document")
	return cmd
}
