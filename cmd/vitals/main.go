package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/cors"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/vitals.report/internal/api"
	"github.com/banshee-data/vitals.report/internal/bia"
	"github.com/banshee-data/vitals.report/internal/composition"
	"github.com/banshee-data/vitals.report/internal/config"
	"github.com/banshee-data/vitals.report/internal/db"
	"github.com/banshee-data/vitals.report/internal/monitoring"
	"github.com/banshee-data/vitals.report/internal/ptt"
	"github.com/banshee-data/vitals.report/internal/serialmux"
	"github.com/banshee-data/vitals.report/internal/session"
	"github.com/banshee-data/vitals.report/internal/units"
	"github.com/banshee-data/vitals.report/internal/version"
)

var (
	listen        = flag.String("listen", ":8080", "Listen address")
	port          = flag.String("port", "/dev/ttyUSB0", "Serial port of the sensor bridge")
	baudRate      = flag.Int("baud", serialmux.DefaultBaudRate, "Serial baud rate")
	parity        = flag.String("parity", "N", "Serial parity (N, E, O)")
	simulate      = flag.Bool("simulate", false, "Use a simulated sensor bridge instead of a serial port")
	disableSerial = flag.Bool("disable-serial", false, "Run without a sensor bridge")
	dbPath        = flag.String("db-path", "vitals.db", "Path to the SQLite database")
	checkSchema   = flag.Bool("no-auto-migrate", false, "Refuse to start if the database schema is out of date instead of migrating it")
	configFile    = flag.String("config", config.DefaultConfigPath, "Path to the tuning config JSON")
	pressureUnits = flag.String("units", units.MMHG, "Default pressure units for API responses ("+units.GetValidPressureUnitsString()+")")
	massUnits     = flag.String("mass", units.KG, "Default mass units for API responses ("+units.GetValidMassUnitsString()+")")
	timezone      = flag.String("tz", "UTC", "Default timezone for charts")
	debug         = flag.Bool("debug", false, "Enable diagnostic logging")
	showVersion   = flag.Bool("version", false, "Print version and exit")
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(os.Args[2:]); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}

	flag.Parse()
	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if err := validateFlags(); err != nil {
		log.Fatal(err)
	}
	monitoring.SetDiagnostics(*debug)
	log.Print(version.String())

	tuning, err := config.LoadTuningConfig(*configFile)
	if err != nil {
		log.Fatalf("failed to load tuning config %s: %v", *configFile, err)
	}
	cfg, err := sessionConfig(tuning)
	if err != nil {
		log.Fatalf("invalid sweep plan: %v", err)
	}

	serialMux, err := openSerialMux()
	if err != nil {
		log.Fatalf("failed to open sensor bridge: %v", err)
	}
	defer serialMux.Close()
	if err := serialMux.Initialize(); err != nil {
		log.Fatalf("failed to initialize sensor bridge: %v", err)
	}

	database, err := db.NewDBWithMigrationCheck(*dbPath, *checkSchema)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()

	sess := session.New(cfg, bia.NewSerialDriver(serialMux), database, nil)
	if err := restoreSession(sess, database); err != nil {
		log.Fatalf("failed to restore session: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := serialMux.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sess.Run(ctx, serialMux); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("session stopped: %v", err)
		}
		log.Print("session routine terminated")
	}()

	apiServer := api.NewServer(sess, database, serialMux, api.Options{
		PressureUnits: *pressureUnits,
		MassUnits:     *massUnits,
		Timezone:      *timezone,
	})
	mux := http.NewServeMux()
	mux.Handle("/api/", newAPIHandler(apiServer))
	serialMux.AttachAdminRoutes(mux)
	database.AttachAdminRoutes(mux)

	wg.Add(1)
	go func() {
		defer wg.Done()
		server := &http.Server{
			Addr:              *listen,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			log.Printf("listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

func validateFlags() error {
	if *simulate && *disableSerial {
		return errors.New("-simulate and -disable-serial are mutually exclusive")
	}
	if !units.IsValidPressure(*pressureUnits) {
		return fmt.Errorf("invalid -units %q: must be one of %s", *pressureUnits, units.GetValidPressureUnitsString())
	}
	if !units.IsValidMass(*massUnits) {
		return fmt.Errorf("invalid -mass %q: must be one of %s", *massUnits, units.GetValidMassUnitsString())
	}
	if !units.IsTimezoneValid(*timezone) {
		return fmt.Errorf("invalid -tz %q", *timezone)
	}
	return nil
}

// runMigrate handles "vitals migrate [--db-path p] <action>".
func runMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	path := fs.String("db-path", "vitals.db", "Path to the SQLite database")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return db.RunMigrateCommand(fs.Args(), *path, os.Stdout)
}

func sessionConfig(tuning *config.TuningConfig) (session.Config, error) {
	plan, err := bia.PlanFromTuning(tuning)
	if err != nil {
		return session.Config{}, err
	}
	return session.Config{
		Estimator:     ptt.ConfigFromTuning(tuning),
		Sweep:         bia.ConfigFromTuning(tuning),
		Plan:          plan,
		EstimateEvery: tuning.GetEstimateEvery(),
	}, nil
}

func openSerialMux() (serialmux.SerialMuxInterface, error) {
	switch {
	case *disableSerial:
		log.Print("serial disabled, sensor endpoints will report no data")
		return serialmux.NewDisabledSerialMux(), nil
	case *simulate:
		log.Print("using simulated sensor bridge")
		return serialmux.NewSimulatedSerialMux(), nil
	}
	return serialmux.NewRealSerialMux(*port, serialmux.PortOptions{BaudRate: *baudRate, Parity: *parity})
}

// persisted is the subset of the database restoreSession reads.
type persisted interface {
	CalibrationPoints() ([]ptt.CalibrationPoint, error)
	Profile() (composition.Profile, error)
}

func restoreSession(sess *session.Session, store persisted) error {
	points, err := store.CalibrationPoints()
	if err != nil {
		return err
	}
	var profile *composition.Profile
	p, err := store.Profile()
	switch {
	case err == nil:
		profile = &p
	case !errors.Is(err, db.ErrNotFound):
		return err
	}
	if err := sess.Restore(points, profile); err != nil {
		return err
	}
	log.Printf("restored %d calibration point(s), profile set: %v", len(points), profile != nil)
	return nil
}

func newAPIHandler(s *api.Server) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(api.LoggingMiddleware(s.ServeMux()))
}
