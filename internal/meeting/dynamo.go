package meeting

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the subset of the DynamoDB client the store uses.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// DynamoStore persists meeting records in a DynamoDB table keyed by "id".
type DynamoStore struct {
	client DynamoAPI
	table  string
}

func NewDynamoStore(client DynamoAPI, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table}
}

func (d *DynamoStore) Get(ctx context.Context, meetingID string) (*Record, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.table),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: meetingID},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get meeting %s: %w", meetingID, err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal meeting %s: %w", meetingID, err)
	}
	return &rec, nil
}

func (d *DynamoStore) Patch(ctx context.Context, meetingID string, patch Patch) error {
	names := map[string]string{}
	values := map[string]types.AttributeValue{}
	var sets []string

	add := func(attr string, v types.AttributeValue) {
		placeholder := fmt.Sprintf("#f%d", len(sets))
		valueKey := fmt.Sprintf(":v%d", len(sets))
		names[placeholder] = attr
		values[valueKey] = v
		sets = append(sets, placeholder+" = "+valueKey)
	}

	if patch.RoomName != nil {
		add("room_name", &types.AttributeValueMemberS{Value: *patch.RoomName})
	}
	if patch.RoomURL != nil {
		add("room_url", &types.AttributeValueMemberS{Value: *patch.RoomURL})
	}
	if patch.RecordingStatus != nil {
		add("recording_status", &types.AttributeValueMemberS{Value: string(*patch.RecordingStatus)})
	}
	if patch.AudioFileURL != nil {
		add("audio_file_url", &types.AttributeValueMemberS{Value: *patch.AudioFileURL})
	}
	if patch.AudioTranscript != nil {
		add("audio_transcript", &types.AttributeValueMemberS{Value: *patch.AudioTranscript})
	}
	if patch.AINotes != nil {
		add("ai_notes", &types.AttributeValueMemberS{Value: *patch.AINotes})
	}
	if patch.NotesStatus != nil {
		add("ai_notes_status", &types.AttributeValueMemberS{Value: string(*patch.NotesStatus)})
	}
	if patch.NotesAttempt != nil {
		add("ai_notes_attempt", &types.AttributeValueMemberS{Value: *patch.NotesAttempt})
	}
	if len(sets) == 0 {
		return nil
	}
	add("updated_at", &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)})

	expr := "SET " + sets[0]
	for _, s := range sets[1:] {
		expr += ", " + s
	}

	_, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.table),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: meetingID},
		},
		UpdateExpression:          aws.String(expr),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ConditionExpression:       aws.String("attribute_exists(id)"),
	})
	if err != nil {
		return fmt.Errorf("patch meeting %s: %w", meetingID, err)
	}
	return nil
}
