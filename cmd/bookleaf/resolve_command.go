package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/bookleaf/assist/internal/identity"
	"github.com/bookleaf/assist/pkg/types"
)

func newResolveCommand(ctx *commandContext) *cobra.Command {
	var req identity.ResolveRequest
	var fromText string

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve a contact to a canonical author",
		Long: `Resolve matches the given name, e-mail and phone against known authors and
prints the resolution as JSON. A new author is created when nothing matches.

With --text, e-mail addresses and phone numbers are extracted from free text
instead of being passed individually.`,
		Example: `  bookleaf resolve --email sarah.johnson@example.com --platform email
  bookleaf resolve --name "Sarah Johnson" --phone "+1 415 555 0134" --platform whatsapp
  bookleaf resolve --text "hi, it's sarah.johnson@example.com" --platform web_chat`,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer ctx.close()
			resolver, err := ctx.newResolver()
			if err != nil {
				return err
			}

			var res *identity.Resolution
			if strings.TrimSpace(fromText) != "" {
				res, err = resolver.ResolveFromText(cmd.Context(), fromText, req.Platform, req.Context)
			} else {
				res, err = resolver.Resolve(cmd.Context(), req)
			}
			if err != nil {
				return err
			}
			return writeJSON(cmd, identity.NewResponse(res))
		},
	}

	cmd.Flags().StringVar(&req.Name, "name", "", "Author name")
	cmd.Flags().StringVar(&req.Email, "email", "", "E-mail address")
	cmd.Flags().StringVar(&req.Phone, "phone", "", "Phone number")
	cmd.Flags().StringVar(&req.Platform, "platform", types.PlatformWebChat, "Channel the contact arrived on")
	cmd.Flags().StringVar(&req.PlatformIdentifier, "platform-id", "", "Handle on the channel (defaults to e-mail, phone, or a session ID)")
	cmd.Flags().StringVar(&req.Context, "context", "", "Conversation text passed to the arbiter")
	cmd.Flags().StringVar(&fromText, "text", "", "Extract identifiers from this text")

	return cmd
}
