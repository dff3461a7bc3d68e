package config

import (
	"github.com/cuongbtq/platecompiler/shared/postgresql"
	"github.com/cuongbtq/platecompiler/shared/rabbitmq"
)

// Postgres returns the client settings for the database section
func (d *DatabaseConfig) Postgres() *postgresql.Config {
	return &postgresql.Config{
		Host:            d.Host,
		Port:            d.Port,
		User:            d.User,
		Password:        d.Password,
		Database:        d.Database,
		SSLMode:         d.SSLMode,
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: d.ConnMaxLifetime,
		ConnMaxIdleTime: d.ConnMaxIdleTime,
	}
}

// Broker returns the client settings for the rabbitmq section. prefetch only
// matters to consumers; publishers pass 0.
func (r *RabbitMQConfig) Broker(prefetch int) *rabbitmq.Config {
	return &rabbitmq.Config{
		Host:               r.Host,
		Port:               r.Port,
		User:               r.User,
		Password:           r.Password,
		VHost:              r.VHost,
		ExchangeName:       r.Exchange.Name,
		ExchangeType:       r.Exchange.Type,
		ExchangeDurable:    r.Exchange.Durable,
		ExchangeAutoDelete: r.Exchange.AutoDelete,
		QueueName:          r.Queue.Name,
		QueueDurable:       r.Queue.Durable,
		QueueAutoDelete:    r.Queue.AutoDelete,
		QueueExclusive:     r.Queue.Exclusive,
		RoutingKey:         r.RoutingKey,
		DeadLetterQueue:    r.Queue.DeadLetter,
		RetryAttempts:      r.Connection.RetryAttempts,
		RetryInterval:      r.Connection.RetryInterval,
		Heartbeat:          r.Connection.Heartbeat,
		ConnectionTimeout:  r.Connection.ConnectionTimeout,
		PublishRetries:     r.Publish.RetryAttempts,
		PublishRetryDelay:  r.Publish.RetryInterval,
		PublishBackoffMult: r.Publish.BackoffMultiplier,
		PublisherConfirms:  r.Publish.Confirm,
		PrefetchCount:      prefetch,
	}
}

// Prefetch is the consumer prefetch, falling back to worker max_jobs
func (c *Config) Prefetch() int {
	if c.RabbitMQ.Consumer.PrefetchCount > 0 {
		return c.RabbitMQ.Consumer.PrefetchCount
	}
	return c.Worker.MaxJobs
}
