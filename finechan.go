package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/elastic/go-elasticsearch/v7"
	"github.com/go-sql-driver/mysql"
	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gonum.org/v1/gonum/floats"
	"google.golang.org/api/option"

	"github.com/hb9tf/finechan/acquire"
	"github.com/hb9tf/finechan/corr"
	"github.com/hb9tf/finechan/export"
	"github.com/hb9tf/finechan/fine"
	"github.com/hb9tf/finechan/metrics"
	"github.com/hb9tf/finechan/render"
	"github.com/hb9tf/finechan/sim"
	"github.com/hb9tf/finechan/snaptool"

	// Blind import support for sqlite3 used by export.SQL.
	_ "github.com/mattn/go-sqlite3"
)

const envPrefix = "FINECHAN_"

// Flags
var (
	antenna       string
	pol           int
	coarseChans   string
	accumulations int
	fineChans     int
	readFile      string
	writeFile     string
	noPlot        bool
	verbose       bool
	identifier    string
	output        string
	plotFile      string
	plotLog       bool
	pushgateway   string
	settingsFile  string

	// SQLite
	sqliteFile string

	// MySQL
	mysqlServer       string
	mysqlUser         string
	mysqlPasswordFile string
	mysqlDBName       string

	// Elastic
	esEndpoints string
	esUser      string
	esPwdFile   string

	// GCP
	gcpProject           string
	gcpServiceAccountKey string

	// MQTT
	mqttBroker  string
	mqttUser    string
	mqttPwdFile string
	mqttPrefix  string
)

var rootCmd = &cobra.Command{
	Use:   "finechan [flags] <config file>",
	Short: "Fine channelize coarse correlator channels",
	Long: `finechan polls snapshots of coarse channel data from a narrowband
correlator, splits them per channel and accumulates the magnitude of an
n_chans point FFT over consecutive segments. Captured data can be written to
a file and replayed later without hardware.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return &acquire.ConfigurationError{Field: "config", Message: "exactly one correlator configuration file is required"}
		}
		return nil
	},
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initializeConfig,
	RunE:              run,
}

func init() {
	// Set defaults for glog flags. Can be overridden via cmdline.
	flag.Set("logtostderr", "false")
	flag.Set("stderrthreshold", "WARNING")
	flag.Set("v", "1")
	// glog's -v would collide with --verbose/-v.
	flag.CommandLine.VisitAll(func(f *flag.Flag) {
		if f.Name == "v" {
			return
		}
		rootCmd.PersistentFlags().AddGoFlag(f)
	})

	fs := rootCmd.Flags()
	fs.StringVar(&antenna, "ant", "0x", "Antenna to take snapshots from.")
	fs.IntVarP(&pol, "pol", "p", 0, "Polarisation to select (0 or 1).")
	fs.StringVarP(&coarseChans, "coarse_chans", "c", "", "Comma separated list of coarse channels to process.")
	fs.IntVarP(&accumulations, "accumulations", "a", acquire.Unlimited, "Number of accumulations, -1 runs until interrupted.")
	fs.IntVarP(&fineChans, "finechans", "f", -1, "Number of fine channels, -1 uses n_chans from the config file.")
	fs.StringVarP(&readFile, "readfile", "r", "", "Replay coarse channel data from this capture file.")
	fs.StringVarP(&writeFile, "writefile", "w", "", "Write coarse channel data to this capture file.")
	fs.BoolVar(&noPlot, "noplot", false, "Do not render the accumulated spectrum.")
	fs.BoolVarP(&verbose, "verbose", "v", false, "Verbose logging.")
	fs.StringVar(&identifier, "id", uuid.NewString(), "Unique identifier of this run.")
	fs.StringVar(&output, "output", "", "Export mechanism to use after every round (one of: csv, yaml, sqlite, mysql, elastic, datastore, mqtt)")
	fs.StringVar(&plotFile, "plot-file", "finechan.png", "Path of the rendered spectrum, .png or .jpg.")
	fs.BoolVar(&plotLog, "plot-log", false, "Plot the spectrum in dB.")
	fs.StringVar(&pushgateway, "pushgateway", "", "Prometheus pushgateway URL to push run metrics to.")
	fs.StringVar(&settingsFile, "settings", "", "YAML file providing defaults for any of these flags.")

	fs.StringVar(&sqliteFile, "sqliteFile", "/tmp/finechan", "File path of the sqlite DB file to use.")

	fs.StringVar(&mysqlServer, "mysqlServer", "127.0.0.1:3306", "MySQL TCP server endpoint to connect to (IP/DNS and port).")
	fs.StringVar(&mysqlUser, "mysqlUser", "", "MySQL DB user.")
	fs.StringVar(&mysqlPasswordFile, "mysqlPasswordFile", "", "Path to the file containing the password for the MySQL user.")
	fs.StringVar(&mysqlDBName, "mysqlDBName", "finechan", "Name of the DB to use.")

	fs.StringVar(&esEndpoints, "esEndpoints", "http://localhost:9200", "Comma separated list of endpoints for elastic export.")
	fs.StringVar(&esUser, "esUser", "elastic", "Username to use for elastic export.")
	fs.StringVar(&esPwdFile, "esPwdFile", "", "File to read password for elastic export from.")

	fs.StringVar(&gcpProject, "gcpProject", "", "GCP project")
	fs.StringVar(&gcpServiceAccountKey, "gcpSvcAcctKey", "", "GCP Service accout key file (JSON)")

	fs.StringVar(&mqttBroker, "mqttBroker", "tcp://localhost:1883", "MQTT broker to publish spectra to.")
	fs.StringVar(&mqttUser, "mqttUser", "", "MQTT user.")
	fs.StringVar(&mqttPwdFile, "mqttPwdFile", "", "File to read the MQTT password from.")
	fs.StringVar(&mqttPrefix, "mqttPrefix", "finechan", "Topic prefix for MQTT export.")
}

// initializeConfig applies the settings file and FINECHAN_* environment
// variables to every flag not given on the command line.
func initializeConfig(cmd *cobra.Command, args []string) error {
	v := viper.New()
	if settingsFile != "" {
		v.SetConfigFile(settingsFile)
		if err := v.ReadInConfig(); err != nil {
			return &acquire.ConfigurationError{Field: "settings", Message: err.Error()}
		}
	}
	if err := bindFlags(cmd, v); err != nil {
		return &acquire.ConfigurationError{Field: "settings", Message: err.Error()}
	}
	if verbose {
		flag.Set("v", "2")
	}
	return nil
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	var lastErr error

	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		envVarSuffix := strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
		if err := v.BindEnv(f.Name, envPrefix+envVarSuffix); err != nil {
			lastErr = err
		}

		// Apply the viper config value to the flag when the flag is not set and viper has a value
		if !f.Changed && v.IsSet(f.Name) {
			val := v.Get(f.Name)
			if err := cmd.Flags().Set(f.Name, fmt.Sprintf("%v", val)); err != nil {
				lastErr = err
			}
		}
	})

	return lastErr
}

func readSecret(path, what string) (string, error) {
	if path == "" {
		return "", nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("unable to read %s password file %q: %s", what, path, err)
	}
	return strings.TrimSpace(string(b)), nil
}

func newExporter(ctx context.Context) (export.Exporter, error) {
	switch strings.ToLower(output) {
	case "":
		return nil, nil
	case "csv":
		return &export.CSV{}, nil
	case "yaml":
		return &export.YAML{}, nil
	case "sqlite":
		db, err := sql.Open("sqlite3", sqliteFile)
		if err != nil {
			return nil, fmt.Errorf("unable to open sqlite DB %q: %s", sqliteFile, err)
		}
		return &export.SQL{
			DB: db,
		}, nil
	case "mysql":
		pass, err := readSecret(mysqlPasswordFile, "MySQL")
		if err != nil {
			return nil, err
		}
		cfg := mysql.Config{
			User:   mysqlUser,
			Passwd: pass,
			Net:    "tcp",
			Addr:   mysqlServer,
			DBName: mysqlDBName,
		}
		db, err := sql.Open("mysql", cfg.FormatDSN())
		if err != nil {
			return nil, fmt.Errorf("unable to open MySQL DB %q: %s", mysqlServer, err)
		}
		db.SetConnMaxLifetime(3 * time.Minute)
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		return &export.MySQL{
			DB: db,
		}, nil
	case "elastic":
		pwd, err := readSecret(esPwdFile, "Elastic")
		if err != nil {
			return nil, err
		}
		esClient, err := elasticsearch.NewClient(elasticsearch.Config{
			Addresses: strings.Split(esEndpoints, ","),
			Username:  esUser,
			Password:  pwd,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create elastic client: %s", err)
		}
		return &export.Elastic{
			Client: esClient,
		}, nil
	case "datastore":
		dsClient, err := datastore.NewClient(ctx, gcpProject, option.WithCredentialsFile(gcpServiceAccountKey))
		if err != nil {
			return nil, fmt.Errorf("failed to create datastore client: %s", err)
		}
		return &export.DataStore{
			Client: dsClient,
		}, nil
	case "mqtt":
		pwd, err := readSecret(mqttPwdFile, "MQTT")
		if err != nil {
			return nil, err
		}
		client, err := export.NewMQTTClient(mqttBroker, "finechan_"+identifier, mqttUser, pwd)
		if err != nil {
			return nil, err
		}
		return &export.MQTT{
			Client: client,
			Prefix: mqttPrefix,
		}, nil
	default:
		return nil, &acquire.ConfigurationError{
			Field:   "output",
			Message: fmt.Sprintf("%q is not a supported export method, pick one of: csv, yaml, sqlite, mysql, elastic, datastore, mqtt", output),
		}
	}
}

func newCorrelator(cfg *corr.Config) corr.Correlator {
	switch {
	case readFile != "":
		// Replay never touches the hardware.
		return &corr.Offline{Cfg: cfg}
	case cfg.Snapshot.Driver == corr.DriverSim:
		return sim.New(cfg)
	default:
		return snaptool.New(cfg)
	}
}

func summarize(s *fine.Spectrum) {
	for _, ch := range s.Channels() {
		values := s.Channel(ch)
		if len(values) == 0 {
			continue
		}
		peak := floats.MaxIdx(values)
		glog.Infof("chan %d: %d segments over %d rounds, peak %f at fine channel %d", ch, s.Segments(ch), s.Rounds(), values[peak], peak)
	}
}

func plot(s *fine.Spectrum) error {
	var series []render.Series
	for _, ch := range s.Channels() {
		series = append(series, render.Series{
			Label:  fmt.Sprintf("chan %d", ch),
			Values: s.Channel(ch),
		})
	}
	img, err := render.Spectrum(series, render.PlotOptions{AddGrid: true, Log: plotLog})
	if err != nil {
		return err
	}
	if err := render.Save(plotFile, img); err != nil {
		return err
	}
	glog.Infof("Wrote spectrum plot to %s", plotFile)
	return nil
}

func run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chans, err := acquire.ParseChannels(coarseChans)
	if err != nil {
		return err
	}
	opts := acquire.Options{
		Run:           identifier,
		Antenna:       antenna,
		Pol:           pol,
		Channels:      chans,
		Accumulations: accumulations,
		FineChans:     fineChans,
		ReadFile:      readFile,
		WriteFile:     writeFile,
	}
	if err := opts.Validate(); err != nil {
		return err
	}
	cfg, err := corr.LoadConfig(args[0])
	if err != nil {
		return &acquire.ConfigurationError{Field: "config", Message: err.Error()}
	}

	exporter, err := newExporter(ctx)
	if err != nil {
		return err
	}
	if exporter != nil {
		defer func() {
			if err := exporter.Close(); err != nil {
				glog.Warningf("error closing exporter: %s", err)
			}
		}()
	}

	dev := newCorrelator(cfg)
	sourceName := dev.Name()
	if readFile != "" {
		sourceName = "replay:" + readFile
	}
	m := metrics.New()
	runner := acquire.NewRunner(dev, opts)
	runner.Metrics = m
	if exporter != nil {
		runner.Reporter = func(ctx context.Context, round int, s *fine.Spectrum) error {
			return exporter.Write(ctx, export.FromSpectrum(identifier, sourceName, round, s, time.Now()))
		}
	}

	glog.Infof("Starting run %s on %s", identifier, sourceName)
	spectrum, runErr := runner.Run(ctx)
	if errors.Is(runErr, context.Canceled) && spectrum != nil {
		glog.Warningf("Interrupted, keeping the %d accumulated rounds", spectrum.Rounds())
		runErr = nil
	}

	if runErr == nil && spectrum != nil && spectrum.Rounds() > 0 {
		summarize(spectrum)
		if !noPlot {
			if err := plot(spectrum); err != nil {
				glog.Warningf("unable to plot spectrum: %s", err)
			}
		}
	}
	if err := m.Push(pushgateway, identifier); err != nil {
		glog.Warning(err)
	}
	return runErr
}

func main() {
	flag.CommandLine.Parse(nil)
	if err := rootCmd.Execute(); err != nil {
		glog.Exit(err)
	}
	glog.Flush()
}
