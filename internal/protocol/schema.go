package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// Arg is the JSON key of a command argument.
type Arg string

const (
	ArgJWKPath   Arg = "jwkPath"
	ArgSource    Arg = "source"
	ArgProcessID Arg = "processId"
	ArgMessageID Arg = "messageId"
	ArgMessage   Arg = "message"
	ArgData      Arg = "data"
	ArgTags      Arg = "tags"
	ArgScheduler Arg = "scheduler"
	ArgOptions   Arg = "options"
)

// Ledger limits for data item tags.
const (
	MaxTags          = 128
	MaxTagNameBytes  = 1024
	MaxTagValueBytes = 3072

	// ReservedTags is the most protocol tags the ledger client stamps on an
	// item (a spawn: Data-Protocol, Variant, Type, Module, Scheduler, SDK).
	ReservedTags = 6
	// MaxCommandTags is how many tags a Command may carry so the signed item
	// still fits in MaxTags.
	MaxCommandTags = MaxTags - ReservedTags
)

// ErrUnknownCommand is reported for any command name missing from Schema.
var ErrUnknownCommand = errors.New("unknown command")

// Spec lists the arguments a command accepts.
type Spec struct {
	Required []Arg
	Optional []Arg
	// Signed commands need a credential file.
	Signed bool
}

// Schema is the single definition of every command both sides agree on.
var Schema = map[Name]Spec{
	CommandCreateWallet: {},
	CommandSpawn: {
		Required: []Arg{ArgJWKPath, ArgSource},
		Optional: []Arg{ArgTags, ArgScheduler, ArgData},
		Signed:   true,
	},
	CommandMessage: {
		Required: []Arg{ArgJWKPath, ArgProcessID, ArgMessage},
		Optional: []Arg{ArgTags},
		Signed:   true,
	},
	CommandResults: {
		Required: []Arg{ArgProcessID},
		Optional: []Arg{ArgOptions},
	},
	CommandSingleResult: {
		Required: []Arg{ArgProcessID, ArgMessageID},
	},
	CommandDryrun: {
		Required: []Arg{ArgProcessID},
		Optional: []Arg{ArgData, ArgTags},
	},
	CommandHealth: {},
}

// Names returns every known command name in a stable order.
func Names() []Name {
	return []Name{
		CommandCreateWallet,
		CommandSpawn,
		CommandMessage,
		CommandResults,
		CommandSingleResult,
		CommandDryrun,
		CommandHealth,
	}
}

// Lookup returns the Spec for a command name.
func Lookup(name Name) (Spec, bool) {
	s, ok := Schema[name]
	return s, ok
}

func (s Spec) accepts(a Arg) bool {
	for _, r := range s.Required {
		if r == a {
			return true
		}
	}
	for _, o := range s.Optional {
		if o == a {
			return true
		}
	}
	return false
}

// present reports which argument keys carry a value.
func (c *Command) present() []Arg {
	var out []Arg
	if c.JWKPath != "" {
		out = append(out, ArgJWKPath)
	}
	if c.Source != "" {
		out = append(out, ArgSource)
	}
	if c.ProcessID != "" {
		out = append(out, ArgProcessID)
	}
	if c.MessageID != "" {
		out = append(out, ArgMessageID)
	}
	if c.Message != "" {
		out = append(out, ArgMessage)
	}
	if c.Data != "" {
		out = append(out, ArgData)
	}
	if len(c.Tags) > 0 {
		out = append(out, ArgTags)
	}
	if c.Scheduler != "" {
		out = append(out, ArgScheduler)
	}
	if len(c.Options) > 0 {
		out = append(out, ArgOptions)
	}
	return out
}

func (c *Command) has(a Arg) bool {
	for _, p := range c.present() {
		if p == a {
			return true
		}
	}
	return false
}

// Validate checks the command against Schema. The returned error text is
// stable and is what ends up in Result.Error.
func (c *Command) Validate() error {
	spec, ok := Lookup(c.Command)
	if !ok {
		return ErrUnknownCommand
	}

	var missing []string
	for _, a := range spec.Required {
		if !c.has(a) {
			missing = append(missing, string(a))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required argument: %s", strings.Join(missing, ", "))
	}

	var extra []string
	for _, a := range c.present() {
		if !spec.accepts(a) {
			extra = append(extra, string(a))
		}
	}
	if len(extra) > 0 {
		return fmt.Errorf("unexpected argument: %s", strings.Join(extra, ", "))
	}

	if err := validateTags(c.Tags, MaxCommandTags); err != nil {
		return err
	}

	if c.Command == CommandResults && len(c.Options) > 0 {
		if _, err := ParseResultsOptions(c.Options); err != nil {
			return fmt.Errorf("invalid options: %w", err)
		}
	}
	return nil
}

// ValidateTags enforces non-empty names and the ledger size limits on the
// full tag list of a data item.
func ValidateTags(tags []Tag) error {
	return validateTags(tags, MaxTags)
}

func validateTags(tags []Tag, limit int) error {
	if len(tags) > limit {
		return fmt.Errorf("too many tags: %d (max %d)", len(tags), limit)
	}
	for i, t := range tags {
		switch {
		case strings.TrimSpace(t.Name) == "":
			return fmt.Errorf("invalid tag at index %d: name is empty", i)
		case len(t.Name) > MaxTagNameBytes:
			return fmt.Errorf("invalid tag at index %d: name exceeds %d bytes", i, MaxTagNameBytes)
		case len(t.Value) > MaxTagValueBytes:
			return fmt.Errorf("invalid tag at index %d: value exceeds %d bytes", i, MaxTagValueBytes)
		}
	}
	return nil
}
