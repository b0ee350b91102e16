package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"

	"github.com/hackgods/slot-reservation-engine/internal/db"
	"github.com/hackgods/slot-reservation-engine/internal/schedule"
	"github.com/hackgods/slot-reservation-engine/internal/slot"
)

var weekdays = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	count := 50
	if v := os.Getenv("SEED_SERVICES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			log.Fatalf("SEED_SERVICES must be a positive integer, got %q", v)
		}
		count = n
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	if err := seedServices(context.Background(), schedule.NewPgRepository(pool), count); err != nil {
		log.Fatalf("seed services: %v", err)
	}

	log.Println("seed complete")
}

func seedServices(ctx context.Context, repo *schedule.PgRepository, count int) error {
	log.Printf("seeding %d services", count)

	for i := 0; i < count; i++ {
		tpl := fakeTemplate()
		if err := repo.Upsert(ctx, &tpl); err != nil {
			return fmt.Errorf("service %d: %w", i, err)
		}
		if (i+1)%10 == 0 {
			log.Printf("services seeded: %d/%d", i+1, count)
		}
	}

	log.Println("services seeded")
	return nil
}

// fakeTemplate builds a weekday template with a morning block and, for most
// services, an afternoon block after a lunch break.
func fakeTemplate() schedule.Template {
	unit := slot.UnitHalf
	if gofakeit.Bool() {
		unit = slot.UnitFull
	}

	days := make([]time.Weekday, 0, len(weekdays))
	for _, d := range weekdays {
		if gofakeit.Float64Range(0, 1) < 0.8 {
			days = append(days, d)
		}
	}
	if len(days) == 0 {
		days = append(days, time.Monday)
	}

	openHour := gofakeit.Number(7, 10)
	lunch := gofakeit.Number(12, 13)
	intervals := []schedule.OpenInterval{{
		Weekdays: days,
		Start:    slot.NewTimeOfDay(openHour, 0),
		End:      slot.NewTimeOfDay(lunch, 0),
	}}
	if gofakeit.Float64Range(0, 1) < 0.7 {
		intervals = append(intervals, schedule.OpenInterval{
			Weekdays: days,
			Start:    slot.NewTimeOfDay(lunch+1, 0),
			End:      slot.NewTimeOfDay(gofakeit.Number(16, 20), 0),
		})
	}

	minLead := gofakeit.Number(0, 2)
	return schedule.Template{
		ServiceID:   uuid.New(),
		Name:        fmt.Sprintf("%s %s", gofakeit.Company(), gofakeit.JobDescriptor()),
		Unit:        unit,
		MinLeadDays: minLead,
		MaxLeadDays: minLead + gofakeit.Number(7, 60),
		Active:      gofakeit.Float64Range(0, 1) < 0.9,
		Intervals:   intervals,
	}
}
