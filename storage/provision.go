package storage

import (
	"context"
	"errors"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"
)

const queueAlreadyExists = "QueueAlreadyExists"

type tableCreator interface {
	CreateTable(ctx context.Context, options *aztables.CreateTableOptions) (aztables.CreateTableResponse, error)
}

type queueCreator interface {
	Create(ctx context.Context, options *azqueue.CreateOptions) (azqueue.CreateQueueResponse, error)
}

// Provision creates the task and user tables and the optional events queue.
// Existing resources are left as they are.
func Provision(ctx context.Context, connStr, tasksTable, usersTable, eventsQueue string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	for _, name := range []string{tasksTable, usersTable} {
		if name == "" {
			continue
		}
		if err := createTable(ctx, svc.NewClient(name)); err != nil {
			return err
		}
		log.WithField("table", name).Info("table ready")
	}
	if eventsQueue == "" {
		return nil
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, eventsQueue, nil)
	if err != nil {
		return err
	}
	if err := createQueue(ctx, q); err != nil {
		return err
	}
	log.WithField("queue", eventsQueue).Info("queue ready")
	return nil
}

func createTable(ctx context.Context, c tableCreator) error {
	if _, err := c.CreateTable(ctx, nil); err != nil && !hasErrorCode(err, string(aztables.TableAlreadyExists)) {
		return err
	}
	return nil
}

func createQueue(ctx context.Context, q queueCreator) error {
	if _, err := q.Create(ctx, nil); err != nil && !hasErrorCode(err, queueAlreadyExists) {
		return err
	}
	return nil
}

func hasErrorCode(err error, code string) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.ErrorCode == code
}
