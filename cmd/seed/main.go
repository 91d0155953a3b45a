package main

import (
	"context"
	"flag"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/specialist-scheduling/internal/api"
	"github.com/hackgods/specialist-scheduling/internal/config"
	"github.com/hackgods/specialist-scheduling/internal/db"
	"github.com/hackgods/specialist-scheduling/internal/interval"
	"github.com/hackgods/specialist-scheduling/internal/logging"
	redisclient "github.com/hackgods/specialist-scheduling/internal/redis"
	"github.com/hackgods/specialist-scheduling/internal/scheduling"
)

func main() {
	programs := flag.Int("programs", 20, "number of programs to create")
	days := flag.Int("days", 14, "days covered by each program, starting tomorrow")
	openRatio := flag.Float64("open-ratio", 0.7, "share of generated dates to open for booking")
	orgFlag := flag.String("org", "", "organization id (random when empty)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New("dev", "info", "")
		bootLogger.Fatal().Err(err).Msg("config load error")
	}
	logger := logging.New(cfg.Env, cfg.LogLevel, cfg.LogFile).With().Str("service", "seed").Logger()

	orgID := uuid.New()
	if *orgFlag != "" {
		if orgID, err = uuid.Parse(*orgFlag); err != nil {
			logger.Fatal().Err(err).Msg("invalid -org")
		}
	}
	actor := scheduling.Actor{UserID: uuid.New(), OrganizationID: orgID}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if _, err := db.Migrate(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("migrate")
	}

	svc := scheduling.NewService(scheduling.NewPgRepository(pool), redisclient.NewLocalLocker(), cfg, logger)

	gofakeit.Seed(time.Now().UnixNano())

	if err := seedPrograms(ctx, svc, actor, *programs, *days, *openRatio, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed programs")
	}

	ev := logger.Info().Str("organization_id", orgID.String()).Str("user_id", actor.UserID.String())
	if cfg.JWTSecret != "" {
		token, err := api.IssueToken([]byte(cfg.JWTSecret), actor.UserID, orgID, 24*time.Hour)
		if err != nil {
			logger.Fatal().Err(err).Msg("issue token")
		}
		ev = ev.Str("token", token)
	}
	ev.Msg("seed complete")
}

func seedPrograms(ctx context.Context, svc *scheduling.Service, actor scheduling.Actor, count, days int, openRatio float64, logger zerolog.Logger) error {
	logger.Info().Int("programs", count).Int("days", days).Msg("seeding programs")

	intervals := []int{15, 20, 30, 45, 60}
	branches := make([]uuid.UUID, 3)
	for i := range branches {
		branches[i] = uuid.MustParse(gofakeit.UUID())
	}

	today := interval.DateOf(time.Now().In(svc.Location()))
	totalSlots, openedDates := 0, 0

	for i := 0; i < count; i++ {
		startHour := gofakeit.Number(7, 10)
		spec := scheduling.ProgramSpec{
			SpecialistID:        uuid.MustParse(gofakeit.UUID()),
			BranchID:            branches[gofakeit.Number(0, len(branches)-1)],
			StartDate:           today.AddDate(0, 0, 1),
			EndDate:             today.AddDate(0, 0, days),
			WindowStart:         interval.Clock(startHour, 0),
			WindowEnd:           interval.Clock(startHour+gofakeit.Number(4, 8), 0),
			SlotIntervalMinutes: intervals[gofakeit.Number(0, len(intervals)-1)],
		}

		p, err := svc.CreateProgram(ctx, actor, spec)
		if err != nil {
			return err
		}
		n, err := svc.GenerateSlots(ctx, actor, p.ID, false)
		if err != nil {
			return err
		}
		totalSlots += n

		for _, day := range interval.Days(spec.StartDate, spec.EndDate) {
			if gofakeit.Float64Range(0, 1) > openRatio {
				continue
			}
			if _, err := svc.OpenDate(ctx, actor, p.ID, day, true); err != nil {
				return err
			}
			openedDates++
		}

		logger.Debug().Str("program_id", p.ID.String()).Int("slots", n).Msg("program seeded")
	}

	logger.Info().Int("slots", totalSlots).Int("opened_dates", openedDates).Msg("programs seeded")
	return nil
}
