package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"usersync/internal/employee"
	"usersync/internal/reconcile"
	"usersync/internal/users"
	"usersync/pkg/config"
	"usersync/pkg/logging"
	"usersync/pkg/postgres"
	"usersync/pkg/rabbitmq"
)

// ANSI
const (
	Reset  = "\033[0m"
	Bold   = "\033[1m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Red    = "\033[31m"
)

const (
	cmdDrift     = "drift"
	cmdRepublish = "republish"
)

func usage() {
	fmt.Fprintf(os.Stderr, `%sUsage:%s cli <command> [flags]

Commands:
  drift       list users that have no employee record
  republish   re-send user.created for every user without an employee record

Flags (before or after the command):
  -users-db string       user-service database URL (default $USER_SERVICE_DATABASE_URL)
  -employees-db string   employee-service database URL (default $EMPLOYEE_SERVICE_DATABASE_URL)
  -v                     log to stderr
`, Bold, Reset)
}

type options struct {
	command     string
	usersDB     string
	employeesDB string
	verbose     bool
}

// parseArgs accepts flags on either side of the command, so both
// "cli -v drift" and "cli drift -v" work.
func parseArgs(args []string, getenv func(string) string) (options, error) {
	var o options
	fs := flag.NewFlagSet("cli", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&o.usersDB, "users-db", getenv("USER_SERVICE_DATABASE_URL"), "")
	fs.StringVar(&o.employeesDB, "employees-db", getenv("EMPLOYEE_SERVICE_DATABASE_URL"), "")
	fs.BoolVar(&o.verbose, "v", false, "")

	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if fs.NArg() == 0 {
		return o, errors.New("missing command")
	}
	o.command = fs.Arg(0)
	if err := fs.Parse(fs.Args()[1:]); err != nil {
		return o, err
	}
	if fs.NArg() != 0 {
		return o, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}

	switch o.command {
	case cmdDrift, cmdRepublish:
	default:
		return o, fmt.Errorf("unknown command %q", o.command)
	}
	if o.usersDB == "" || o.employeesDB == "" {
		return o, errors.New("-users-db and -employees-db are required")
	}
	return o, nil
}

func main() {
	opts, err := parseArgs(os.Args[1:], os.Getenv)
	if errors.Is(err, flag.ErrHelp) {
		usage()
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%sError:%s %v\n\n", Red, Reset, err)
		usage()
		os.Exit(2)
	}

	log := zap.NewNop()
	if opts.verbose {
		l, err := logging.New("cli", "debug")
		if err != nil {
			fail(err)
		}
		log = l
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	udb, err := postgres.Open(opts.usersDB)
	if err != nil {
		fail(err)
	}
	defer udb.Close()
	edb, err := postgres.Open(opts.employeesDB)
	if err != nil {
		fail(err)
	}
	defer edb.Close()

	r := reconcile.New(users.NewRepository(udb), employee.NewSQLRepository(edb), log)
	report, err := r.Drift(ctx)
	if err != nil {
		fail(err)
	}
	printReport(report)

	switch opts.command {
	case cmdDrift:
		if len(report.Missing) > 0 {
			os.Exit(1)
		}
	case cmdRepublish:
		if len(report.Missing) == 0 {
			return
		}
		if err := republish(ctx, r, report, log); err != nil {
			fail(err)
		}
	}
}

func republish(ctx context.Context, r *reconcile.Reconciler, report reconcile.Report, log *zap.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	conn, err := rabbitmq.Connect(rabbitmq.ConnectionConfig{
		Host:             cfg.RabbitMQ.Host,
		Port:             cfg.RabbitMQ.Port,
		Username:         cfg.RabbitMQ.Username,
		Password:         cfg.RabbitMQ.Password,
		VHost:            cfg.RabbitMQ.VHost,
		RecoveryInterval: cfg.RabbitMQ.RecoveryInterval,
		ConnectTimeout:   cfg.RabbitMQ.ConnectTimeout,
	}, log)
	if err != nil {
		return err
	}
	defer conn.Close()

	pub, err := rabbitmq.NewPublisher(conn, rabbitmq.QueueConfig{
		Name:            cfg.RabbitMQ.QueueName,
		DeadLetterQueue: cfg.RabbitMQ.DeadLetterQueue,
	}, cfg.Publish.Timeout, log)
	if err != nil {
		return err
	}

	correlationID := "reconcile-" + uuid.NewString()
	sent, err := r.Republish(ctx, users.NewEventPublisher(pub), report.Missing, correlationID)
	fmt.Printf("%sRepublished %d of %d events%s (correlation_id=%s)\n", Green, sent, len(report.Missing), Reset, correlationID)
	return err
}

func printReport(report reconcile.Report) {
	fmt.Printf("%sUsers:%s %d   %sEmployees:%s %d\n", Bold, Reset, report.Users, Bold, Reset, report.Employees)
	if len(report.Missing) == 0 {
		fmt.Printf("%sIn sync%s\n", Green, Reset)
		return
	}

	fmt.Printf("%s%d user(s) without an employee record%s\n", Yellow, len(report.Missing), Reset)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "USER ID\tUSERNAME\tEMAIL")
	for _, e := range report.Missing {
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.ID, e.Username, e.Email)
	}
	w.Flush()
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "%sError:%s %v\n", Red, Reset, err)
	os.Exit(1)
}
