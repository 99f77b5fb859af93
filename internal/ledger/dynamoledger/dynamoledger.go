// Package dynamoledger provides a dedup.Ledger backed by a DynamoDB table
// whose partition key is the string attribute "identifier".
package dynamoledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
)

const keyAttr = "identifier"

// API is the subset of the DynamoDB client used by the ledger.
type API interface {
	GetItemWithContext(aws.Context, *dynamodb.GetItemInput, ...request.Option) (*dynamodb.GetItemOutput, error)
	PutItemWithContext(aws.Context, *dynamodb.PutItemInput, ...request.Option) (*dynamodb.PutItemOutput, error)
}

type item struct {
	Identifier string `dynamodbav:"identifier"`
	RecordedAt string `dynamodbav:"recorded_at"`
}

// Ledger records identifiers as items of one table.
type Ledger struct {
	api   API
	table string
}

// New returns a ledger over table using api.
func New(api API, table string) *Ledger {
	return &Ledger{api: api, table: table}
}

// Exists reports whether id has been recorded. Reads are strongly consistent
// so that a Put followed by Exists in the same run observes the write.
func (l *Ledger) Exists(ctx context.Context, id string) (bool, error) {
	out, err := l.api.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(l.table),
		Key:            map[string]*dynamodb.AttributeValue{keyAttr: {S: aws.String(id)}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return false, fmt.Errorf("get item: %w", err)
	}
	return len(out.Item) > 0, nil
}

// Put records id. The conditional write keeps the first recorded time.
func (l *Ledger) Put(ctx context.Context, id string) error {
	av, err := dynamodbattribute.MarshalMap(item{
		Identifier: id,
		RecordedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}

	_, err = l.api.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(l.table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(" + keyAttr + ")"),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() == dynamodb.ErrCodeConditionalCheckFailedException {
			return nil
		}
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}
