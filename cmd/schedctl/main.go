package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/specialist-scheduling/internal/api"
	"github.com/hackgods/specialist-scheduling/internal/config"
	"github.com/hackgods/specialist-scheduling/internal/db"
	"github.com/hackgods/specialist-scheduling/internal/interval"
	"github.com/hackgods/specialist-scheduling/internal/logging"
	redisclient "github.com/hackgods/specialist-scheduling/internal/redis"
	"github.com/hackgods/specialist-scheduling/internal/scheduling"
)

type globalFlags struct {
	org     string
	user    string
	noRedis bool
}

func main() {
	var gf globalFlags

	rootCmd := &cobra.Command{
		Use:          "schedctl",
		Short:        "Administer specialist scheduling programs",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&gf.org, "org", os.Getenv("SCHEDCTL_ORG"), "organization id")
	rootCmd.PersistentFlags().StringVar(&gf.user, "user", os.Getenv("SCHEDCTL_USER"), "acting user id (system when empty)")
	rootCmd.PersistentFlags().BoolVar(&gf.noRedis, "no-redis", false, "use an in-process lock instead of Redis")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tokenCmd(&gf))
	rootCmd.AddCommand(programCmd(&gf))
	rootCmd.AddCommand(expireCmd(&gf))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := db.Migrate(ctx, pool)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Println("Database is up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Println("applied", name)
			}
			return nil
		},
	}
}

func tokenCmd(gf *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return fmt.Errorf("JWT_SECRET is not set")
			}
			actor, err := gf.actor()
			if err != nil {
				return err
			}
			ttl, _ := cmd.Flags().GetDuration("ttl")
			token, err := api.IssueToken([]byte(cfg.JWTSecret), actor.UserID, actor.OrganizationID, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func programCmd(gf *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "program",
		Short: "Manage programs",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a program",
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := specFromFlags(cmd)
			if err != nil {
				return err
			}
			return gf.run(cmd.Context(), func(ctx context.Context, svc *scheduling.Service, actor scheduling.Actor) error {
				p, err := svc.CreateProgram(ctx, actor, spec)
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	createCmd.Flags().String("specialist", "", "specialist id")
	createCmd.Flags().String("branch", "", "branch id")
	createCmd.Flags().String("room", "", "room id (optional)")
	createCmd.Flags().String("from", "", "first date, YYYY-MM-DD")
	createCmd.Flags().String("to", "", "last date, YYYY-MM-DD")
	createCmd.Flags().String("window-start", "08:00", "daily window start, HH:MM")
	createCmd.Flags().String("window-end", "17:00", "daily window end, HH:MM")
	createCmd.Flags().Int("interval", 30, "slot length in minutes")
	cmd.AddCommand(createCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List programs",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, _ := cmd.Flags().GetString("status")
			limit, _ := cmd.Flags().GetInt("limit")
			return gf.run(cmd.Context(), func(ctx context.Context, svc *scheduling.Service, actor scheduling.Actor) error {
				programs, err := svc.ListPrograms(ctx, actor.OrganizationID, scheduling.ProgramFilter{
					Status: scheduling.ProgramStatus(status),
					Limit:  limit,
				})
				if err != nil {
					return err
				}
				return printJSON(programs)
			})
		},
	}
	listCmd.Flags().String("status", "", "filter by status")
	listCmd.Flags().Int("limit", 50, "maximum results")
	cmd.AddCommand(listCmd)

	generateCmd := &cobra.Command{
		Use:   "generate <program-id>",
		Short: "Generate the slots of a program",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return err
			}
			regenerate, _ := cmd.Flags().GetBool("regenerate")
			return gf.run(cmd.Context(), func(ctx context.Context, svc *scheduling.Service, actor scheduling.Actor) error {
				n, err := svc.GenerateSlots(ctx, actor, id, regenerate)
				if err != nil {
					return err
				}
				fmt.Printf("created %d slots\n", n)
				return nil
			})
		},
	}
	generateCmd.Flags().Bool("regenerate", false, "rebuild slots after the program changed")
	cmd.AddCommand(generateCmd)

	openDateCmd := &cobra.Command{
		Use:   "open-date <program-id> <date>",
		Short: "Open a date for booking",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, date, err := programDateArgs(args)
			if err != nil {
				return err
			}
			withSlots, _ := cmd.Flags().GetBool("slots")
			return gf.run(cmd.Context(), func(ctx context.Context, svc *scheduling.Service, actor scheduling.Actor) error {
				n, err := svc.OpenDate(ctx, actor, id, date, withSlots)
				if err != nil {
					return err
				}
				fmt.Printf("opened %s, %d slots changed\n", interval.FormatDate(date), n)
				return nil
			})
		},
	}
	openDateCmd.Flags().Bool("slots", true, "also open the closed slots of the date")
	cmd.AddCommand(openDateCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "close-date <program-id> <date>",
		Short: "Close a date and its free slots",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, date, err := programDateArgs(args)
			if err != nil {
				return err
			}
			return gf.run(cmd.Context(), func(ctx context.Context, svc *scheduling.Service, actor scheduling.Actor) error {
				n, err := svc.CloseDate(ctx, actor, id, date)
				if err != nil {
					return err
				}
				fmt.Printf("closed %s, %d slots changed\n", interval.FormatDate(date), n)
				return nil
			})
		},
	})

	cmd.AddCommand(programAction(gf, "finish", "Finish a program whose end date has passed",
		func(ctx context.Context, svc *scheduling.Service, actor scheduling.Actor, id uuid.UUID) error {
			p, err := svc.FinishProgram(ctx, actor, id)
			if err != nil {
				return err
			}
			return printJSON(p)
		}))
	cmd.AddCommand(programAction(gf, "cancel", "Cancel a program",
		func(ctx context.Context, svc *scheduling.Service, actor scheduling.Actor, id uuid.UUID) error {
			p, err := svc.CancelProgram(ctx, actor, id)
			if err != nil {
				return err
			}
			return printJSON(p)
		}))
	cmd.AddCommand(programAction(gf, "delete", "Delete a program with no occupied slots",
		func(ctx context.Context, svc *scheduling.Service, actor scheduling.Actor, id uuid.UUID) error {
			if err := svc.DeleteProgram(ctx, actor, id); err != nil {
				return err
			}
			fmt.Println("deleted", id)
			return nil
		}))

	return cmd
}

func programAction(gf *globalFlags, use, short string, fn func(context.Context, *scheduling.Service, scheduling.Actor, uuid.UUID) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <program-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return err
			}
			return gf.run(cmd.Context(), func(ctx context.Context, svc *scheduling.Service, actor scheduling.Actor) error {
				return fn(ctx, svc, actor, id)
			})
		},
	}
}

func expireCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "expire",
		Short: "Cancel pending holds older than APPOINTMENT_TTL once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if gf.org == "" {
				gf.org = uuid.Nil.String()
			}
			return gf.run(cmd.Context(), func(ctx context.Context, svc *scheduling.Service, _ scheduling.Actor) error {
				n, err := svc.ExpirePendingAppointments(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("expired %d appointments\n", n)
				return nil
			})
		},
	}
}

func (gf *globalFlags) actor() (scheduling.Actor, error) {
	var actor scheduling.Actor
	if gf.org == "" {
		return actor, fmt.Errorf("--org is required")
	}
	org, err := uuid.Parse(gf.org)
	if err != nil {
		return actor, fmt.Errorf("--org: %w", err)
	}
	actor = scheduling.SystemActor(org)
	if gf.user != "" {
		if actor.UserID, err = uuid.Parse(gf.user); err != nil {
			return actor, fmt.Errorf("--user: %w", err)
		}
	}
	return actor, nil
}

// run wires the service the same way the API server does and hands it to fn.
func (gf *globalFlags) run(ctx context.Context, fn func(context.Context, *scheduling.Service, scheduling.Actor) error) error {
	actor, err := gf.actor()
	if err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Env, cfg.LogLevel, cfg.LogFile).Level(zerolog.WarnLevel)

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	locker := redisclient.NewLocalLocker()
	if !gf.noRedis {
		rdb, err := redisclient.NewClient(ctx, cfg)
		if err != nil {
			return fmt.Errorf("%w (pass --no-redis when no API server is running)", err)
		}
		defer rdb.Close()
		locker = redisclient.NewRedisLocker(rdb, cfg.LockTTL)
	}

	svc := scheduling.NewService(scheduling.NewPgRepository(pool), locker, cfg, logger)
	return fn(ctx, svc, actor)
}

func specFromFlags(cmd *cobra.Command) (scheduling.ProgramSpec, error) {
	var spec scheduling.ProgramSpec
	flags := cmd.Flags()
	get := func(name string) string {
		v, _ := flags.GetString(name)
		return v
	}

	var err error
	if spec.SpecialistID, err = uuid.Parse(get("specialist")); err != nil {
		return spec, fmt.Errorf("--specialist: %w", err)
	}
	if spec.BranchID, err = uuid.Parse(get("branch")); err != nil {
		return spec, fmt.Errorf("--branch: %w", err)
	}
	if room := get("room"); room != "" {
		id, err := uuid.Parse(room)
		if err != nil {
			return spec, fmt.Errorf("--room: %w", err)
		}
		spec.RoomID = &id
	}
	if spec.StartDate, err = interval.ParseDate(get("from")); err != nil {
		return spec, fmt.Errorf("--from: %w", err)
	}
	if spec.EndDate, err = interval.ParseDate(get("to")); err != nil {
		return spec, fmt.Errorf("--to: %w", err)
	}
	if spec.WindowStart, err = interval.ParseTimeOfDay(get("window-start")); err != nil {
		return spec, fmt.Errorf("--window-start: %w", err)
	}
	if spec.WindowEnd, err = interval.ParseTimeOfDay(get("window-end")); err != nil {
		return spec, fmt.Errorf("--window-end: %w", err)
	}
	spec.SlotIntervalMinutes, _ = flags.GetInt("interval")
	return spec, spec.Validate()
}

func programDateArgs(args []string) (uuid.UUID, time.Time, error) {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return uuid.Nil, time.Time{}, err
	}
	date, err := interval.ParseDate(args[1])
	if err != nil {
		return uuid.Nil, time.Time{}, err
	}
	return id, date, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
