package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/MrEthical07/panelauth"
	"github.com/MrEthical07/panelauth/storage"
)

const (
	envToken    = "PANELAUTH_CLI_TOKEN"
	envPassword = "PANELAUTH_CLI_PASSWORD"
)

// Directory is the read side adminctl needs beyond the Engine.
type Directory interface {
	GetUserByEmail(ctx context.Context, email string) (storage.AdminUser, error)
	RecentAudit(ctx context.Context, userID string, limit int) ([]storage.AuditEntry, error)
}

// Backend is what a command runs against.
type Backend struct {
	Engine    *panelauth.Engine
	Directory Directory
}

type opener func(ctx context.Context) (Backend, func(), error)

// options holds every flag any command accepts; each command registers
// only the ones it reads.
type options struct {
	email     string
	password  string
	token     string
	emergency string
	label     string
	channel   string
	ttl       time.Duration
	active    bool
	limit     int
}

type command struct {
	usage string
	flags func(fs *flag.FlagSet, o *options)
	check func(o *options) error
	run   func(ctx context.Context, b Backend, o *options, out io.Writer) error
}

var commands = map[string]command{
	"init": {
		usage: "create the first administrator, who becomes master on first token mint",
		flags: func(fs *flag.FlagSet, o *options) { emailFlag(fs, o); passwordFlag(fs, o) },
		check: require("email", "password"),
		run: func(ctx context.Context, b Backend, o *options, out io.Writer) error {
			u, err := b.Engine.CreateInitialAdmin(ctx, o.email, o.password)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "created %s (%s)\n", u.Email, u.ID)
			return nil
		},
	},
	"create-admin": {
		usage: "create another administrator (master token required)",
		flags: func(fs *flag.FlagSet, o *options) { tokenFlag(fs, o); emailFlag(fs, o); passwordFlag(fs, o) },
		check: require("token", "email", "password"),
		run: func(ctx context.Context, b Backend, o *options, out io.Writer) error {
			u, err := b.Engine.CreateAdmin(ctx, o.token, o.email, o.password)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "created %s (%s)\n", u.Email, u.ID)
			return nil
		},
	},
	"set-active": {
		usage: "enable or disable an administrator (master token required)",
		flags: func(fs *flag.FlagSet, o *options) {
			tokenFlag(fs, o)
			emailFlag(fs, o)
			fs.BoolVar(&o.active, "active", true, "account state")
		},
		check: require("token", "email"),
		run: func(ctx context.Context, b Backend, o *options, out io.Writer) error {
			if err := b.Engine.SetAdminActive(ctx, o.token, o.email, o.active); err != nil {
				return err
			}
			fmt.Fprintf(out, "%s active=%t\n", o.email, o.active)
			return nil
		},
	},
	"master-token": {
		usage: "mint the master token (replaces any previous one)",
		flags: func(fs *flag.FlagSet, o *options) { emailFlag(fs, o); passwordFlag(fs, o) },
		check: require("email", "password"),
		run: func(ctx context.Context, b Backend, o *options, out io.Writer) error {
			tok, err := b.Engine.Tokens().GenerateMasterToken(ctx, o.email, o.password)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, tok)
			return nil
		},
	},
	"sub-token": {
		usage: "mint a sub token for an administrator (master token required)",
		flags: func(fs *flag.FlagSet, o *options) { tokenFlag(fs, o); emailFlag(fs, o) },
		check: require("token", "email"),
		run: func(ctx context.Context, b Backend, o *options, out io.Writer) error {
			tok, err := b.Engine.Tokens().GenerateSubToken(ctx, o.token, o.email)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, tok)
			return nil
		},
	},
	"revoke-sub": {
		usage: "revoke an administrator's sub token (master token required)",
		flags: func(fs *flag.FlagSet, o *options) { tokenFlag(fs, o); emailFlag(fs, o) },
		check: require("token", "email"),
		run: func(ctx context.Context, b Backend, o *options, out io.Writer) error {
			if err := b.Engine.Tokens().RevokeSubToken(ctx, o.token, o.email); err != nil {
				return err
			}
			fmt.Fprintf(out, "sub token revoked for %s\n", o.email)
			return nil
		},
	},
	"emergency-token": {
		usage: "create a single-use emergency token (master token required)",
		flags: func(fs *flag.FlagSet, o *options) {
			tokenFlag(fs, o)
			fs.StringVar(&o.label, "label", "", "note stored with the token")
			fs.DurationVar(&o.ttl, "ttl", 0, "lifetime; 0 uses the configured default")
		},
		check: require("token"),
		run: func(ctx context.Context, b Backend, o *options, out io.Writer) error {
			tok, err := b.Engine.Tokens().CreateEmergencyToken(ctx, o.token, o.label, o.ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, tok)
			return nil
		},
	},
	"use-emergency": {
		usage: "redeem an emergency token; prints the new master token",
		flags: func(fs *flag.FlagSet, o *options) {
			fs.StringVar(&o.emergency, "emergency", "", "emergency token")
			emailFlag(fs, o)
			passwordFlag(fs, o)
		},
		check: require("emergency", "email", "password"),
		run: func(ctx context.Context, b Backend, o *options, out io.Writer) error {
			res, err := b.Engine.Tokens().UseEmergencyToken(ctx, o.emergency, o.email, o.password)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, res.MasterToken)
			return nil
		},
	},
	"recovery-token": {
		usage: "issue a recovery token for the master account",
		flags: func(fs *flag.FlagSet, o *options) {
			emailFlag(fs, o)
			fs.StringVar(&o.channel, "channel", panelauth.RecoveryChannelDisplay, "display, email or telegram")
		},
		check: require("email"),
		run: func(ctx context.Context, b Backend, o *options, out io.Writer) error {
			u, err := lookup(ctx, b, o.email)
			if err != nil {
				return err
			}
			tok, err := b.Engine.Recovery().GenerateToken(ctx, u.ID, o.channel)
			if err != nil {
				return err
			}
			if tok == "" {
				fmt.Fprintf(out, "recovery token sent via %s\n", o.channel)
				return nil
			}
			fmt.Fprintln(out, tok)
			return nil
		},
	},
	"revoke-recovery": {
		usage: "revoke outstanding recovery tokens for an account",
		flags: func(fs *flag.FlagSet, o *options) { emailFlag(fs, o) },
		check: require("email"),
		run: func(ctx context.Context, b Backend, o *options, out io.Writer) error {
			u, err := lookup(ctx, b, o.email)
			if err != nil {
				return err
			}
			n, err := b.Engine.Recovery().RevokeActiveTokens(ctx, u.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "revoked %d recovery token(s)\n", n)
			return nil
		},
	},
	"grant": {
		usage: "exchange a CLI token for a short-lived signed grant",
		flags: func(fs *flag.FlagSet, o *options) { tokenFlag(fs, o) },
		check: require("token"),
		run: func(ctx context.Context, b Backend, o *options, out io.Writer) error {
			grant, exp, err := b.Engine.IssueCLIGrant(ctx, o.token)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s\nexpires %s\n", grant, exp.UTC().Format(time.RFC3339))
			return nil
		},
	},
	"show-path": {
		usage: "print the current admin base path",
		run: func(ctx context.Context, b Backend, _ *options, out io.Writer) error {
			p, err := b.Engine.AdminBasePath(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, p)
			return nil
		},
	},
	"rotate-path": {
		usage: "replace the admin base path (master token required)",
		flags: func(fs *flag.FlagSet, o *options) { tokenFlag(fs, o) },
		check: require("token"),
		run: func(ctx context.Context, b Backend, o *options, out io.Writer) error {
			p, err := b.Engine.RotateAdminBasePath(ctx, o.token)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, p)
			return nil
		},
	},
	"cleanup": {
		usage: "delete expired sessions, codes and tokens",
		run: func(ctx context.Context, b Backend, _ *options, out io.Writer) error {
			r, err := b.Engine.Cleanup(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "sessions=%d codes=%d reset=%d recovery=%d emergency=%d took=%s\n",
				r.Sessions, r.Codes, r.ResetTokens, r.RecoveryTokens, r.EmergencyTokens, r.Duration.Round(time.Millisecond))
			return nil
		},
	},
	"posture": {
		usage: "print the configured security posture and warnings",
		run: func(_ context.Context, b Backend, _ *options, out io.Writer) error {
			r := b.Engine.SecurityReport()
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "session lifetime\t%s (max %s)\n", r.SessionLifetime, r.MaxSessionLifetime)
			fmt.Fprintf(tw, "argon2id\tm=%dKiB t=%d p=%d\n", r.Argon2.Memory, r.Argon2.Time, r.Argon2.Parallelism)
			fmt.Fprintf(tw, "lockout\t%t (threshold %d, max %s)\n", r.LockoutActive, r.LockoutThreshold, r.MaxLockout)
			fmt.Fprintf(tw, "throttling\t%t\n", r.RateLimitingActive)
			fmt.Fprintf(tw, "channels\t%s\n", strings.Join(r.DeliveryChannels, ","))
			fmt.Fprintf(tw, "audit\t%t\n", r.AuditActive)
			if err := tw.Flush(); err != nil {
				return err
			}
			for _, w := range r.Warnings {
				fmt.Fprintf(out, "WARNING: %s\n", w)
			}
			return nil
		},
	},
	"audit": {
		usage: "list recent audit entries, optionally for one account",
		flags: func(fs *flag.FlagSet, o *options) {
			fs.StringVar(&o.email, "email", "", "limit to this account")
			fs.IntVar(&o.limit, "limit", 50, "maximum entries")
		},
		run: func(ctx context.Context, b Backend, o *options, out io.Writer) error {
			var userID string
			if o.email != "" {
				u, err := lookup(ctx, b, o.email)
				if err != nil {
					return err
				}
				userID = u.ID
			}
			entries, err := b.Directory.RecentAudit(ctx, userID, o.limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tACTION\tUSER\tIP\tOK\tERROR")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\n",
					e.Timestamp.UTC().Format(time.RFC3339), e.Action, e.UserID, e.IP, e.Success, e.Error)
			}
			return tw.Flush()
		},
	},
}

func emailFlag(fs *flag.FlagSet, o *options) {
	fs.StringVar(&o.email, "email", "", "administrator email")
}

func passwordFlag(fs *flag.FlagSet, o *options) {
	fs.StringVar(&o.password, "password", os.Getenv(envPassword), "password (default $"+envPassword+")")
}

func tokenFlag(fs *flag.FlagSet, o *options) {
	fs.StringVar(&o.token, "token", os.Getenv(envToken), "master token (default $"+envToken+")")
}

func require(names ...string) func(o *options) error {
	return func(o *options) error {
		values := map[string]string{
			"email":     o.email,
			"password":  o.password,
			"token":     o.token,
			"emergency": o.emergency,
		}
		var missing []string
		for _, n := range names {
			if strings.TrimSpace(values[n]) == "" {
				missing = append(missing, "-"+n)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("missing %s", strings.Join(missing, ", "))
		}
		return nil
	}
}

func lookup(ctx context.Context, b Backend, email string) (storage.AdminUser, error) {
	u, err := b.Directory.GetUserByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.AdminUser{}, panelauth.ErrUserNotFound
	}
	return u, err
}

// parse resolves the subcommand and its flags without touching any backend.
func parse(args []string, stderr io.Writer) (command, *options, error) {
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		usage(stderr)
		return command{}, nil, flag.ErrHelp
	}
	cmd, ok := commands[args[0]]
	if !ok {
		usage(stderr)
		return command{}, nil, fmt.Errorf("unknown command %q", args[0])
	}

	o := &options{}
	fs := flag.NewFlagSet(args[0], flag.ContinueOnError)
	fs.SetOutput(stderr)
	if cmd.flags != nil {
		cmd.flags(fs, o)
	}
	if err := fs.Parse(args[1:]); err != nil {
		return command{}, nil, err
	}
	if fs.NArg() > 0 {
		return command{}, nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	if cmd.check != nil {
		if err := cmd.check(o); err != nil {
			return command{}, nil, err
		}
	}
	return cmd, o, nil
}

func usage(w io.Writer) {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(w, "usage: adminctl <command> [flags]")
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, name := range names {
		fmt.Fprintf(tw, "  %s\t%s\n", name, commands[name].usage)
	}
	_ = tw.Flush()
}

// run returns the process exit code: 0 ok, 1 command failure, 2 usage.
func run(ctx context.Context, args []string, stdout, stderr io.Writer, open opener) int {
	cmd, o, err := parse(args, stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(stderr, "adminctl: %v\n", err)
		}
		return 2
	}

	b, closeFn, err := open(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "adminctl: %v\n", err)
		return 1
	}
	defer closeFn()

	if err := cmd.run(ctx, b, o, stdout); err != nil {
		fmt.Fprintf(stderr, "adminctl: %s: %v\n", args[0], err)
		return 1
	}
	return 0
}
