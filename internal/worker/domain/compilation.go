package domain

import (
	"time"

	"github.com/cuongbtq/platecompiler/internal/blob"
	"github.com/cuongbtq/platecompiler/internal/diag"
	"github.com/cuongbtq/platecompiler/internal/plate"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Compilation is a claimed compile request
type Compilation struct {
	CompileID          string
	PlateIDs           []string
	PrinterModel       string
	RoutineName        string
	Mode               string
	SkipMissingRoutine bool
	RetryCount         int
	MaxRetries         int
	TimeoutSeconds     int
}

// StoredPlate is a plate loaded back from the database, program decoded.
type StoredPlate struct {
	PlateID      string
	Name         string
	PrinterModel string
	Duration     time.Duration
	Filaments    []plate.Filament
	Thumbnail    string
	Program      string
	Source       *plate.SourceArchive
}

// Outcome is what a compile run produced. Diagnostics are kept on failure too.
type Outcome struct {
	Diagnostics diag.List
	Compiled    int
	Duration    time.Duration
	Artifact    *blob.Blob
}

// CompileMessage represents a compile message from RabbitMQ
type CompileMessage struct {
	CompileID   string        `json:"compile_id"`
	DeliveryTag uint64        `json:"-"`
	Delivery    amqp.Delivery `json:"-"`
}
