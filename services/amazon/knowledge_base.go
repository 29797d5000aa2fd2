package amazon

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/bedrockagent"
	"github.com/google/uuid"
)

// KnowledgeBase drives ingestion on the Bedrock knowledge base that indexes TextFiles/
type KnowledgeBase struct {
	client          *bedrockagent.BedrockAgent
	knowledgeBaseID string
	dataSourceID    string
}

// NewKnowledgeBase creates a client bound to one knowledge base data source
func NewKnowledgeBase(sess *session.Session, knowledgeBaseID, dataSourceID string) (*KnowledgeBase, error) {
	if knowledgeBaseID == "" || dataSourceID == "" {
		return nil, fmt.Errorf("KNOWLEDGE_BASE_ID and DATA_SOURCE_ID must be configured")
	}
	return &KnowledgeBase{
		client:          bedrockagent.New(sess),
		knowledgeBaseID: knowledgeBaseID,
		dataSourceID:    dataSourceID,
	}, nil
}

// StartSync starts an ingestion job and returns its id
func (k *KnowledgeBase) StartSync(ctx context.Context) (string, error) {
	out, err := k.client.StartIngestionJobWithContext(ctx, &bedrockagent.StartIngestionJobInput{
		KnowledgeBaseId: aws.String(k.knowledgeBaseID),
		DataSourceId:    aws.String(k.dataSourceID),
		ClientToken:     aws.String(uuid.NewString()),
	})
	if err != nil {
		return "", fmt.Errorf("failed to start ingestion job: %w", err)
	}
	if out.IngestionJob == nil {
		return "", nil
	}
	return aws.StringValue(out.IngestionJob.IngestionJobId), nil
}

// The pinned SDK predates DeleteKnowledgeBaseDocuments, so the operation is
// declared here and sent through the bedrockagent client's rest-json handlers.
const opDeleteKnowledgeBaseDocuments = "DeleteKnowledgeBaseDocuments"

type deleteDocumentsInput struct {
	_ struct{} `type:"structure"`

	KnowledgeBaseId     *string               `location:"uri" locationName:"knowledgeBaseId" type:"string" required:"true"`
	DataSourceId        *string               `location:"uri" locationName:"dataSourceId" type:"string" required:"true"`
	ClientToken         *string               `locationName:"clientToken" type:"string"`
	DocumentIdentifiers []*documentIdentifier `locationName:"documentIdentifiers" type:"list" required:"true"`
}

type documentIdentifier struct {
	_ struct{} `type:"structure"`

	DataSourceType *string             `locationName:"dataSourceType" type:"string" required:"true"`
	S3             *documentS3Location `locationName:"s3" type:"structure"`
}

type documentS3Location struct {
	_ struct{} `type:"structure"`

	Uri *string `locationName:"uri" type:"string" required:"true"`
}

type deleteDocumentsOutput struct {
	_ struct{} `type:"structure"`

	DocumentDetails []*documentDetail `locationName:"documentDetails" type:"list"`
}

type documentDetail struct {
	_ struct{} `type:"structure"`

	Status       *string `locationName:"status" type:"string"`
	StatusReason *string `locationName:"statusReason" type:"string"`
}

// DeleteDocument removes the indexed document stored at an s3:// URI
func (k *KnowledgeBase) DeleteDocument(ctx context.Context, uri string) error {
	op := &request.Operation{
		Name:       opDeleteKnowledgeBaseDocuments,
		HTTPMethod: "POST",
		HTTPPath:   "/knowledgebases/{knowledgeBaseId}/datasources/{dataSourceId}/documents/deleteDocuments",
	}
	input := &deleteDocumentsInput{
		KnowledgeBaseId: aws.String(k.knowledgeBaseID),
		DataSourceId:    aws.String(k.dataSourceID),
		ClientToken:     aws.String(uuid.NewString()),
		DocumentIdentifiers: []*documentIdentifier{{
			DataSourceType: aws.String("S3"),
			S3:             &documentS3Location{Uri: aws.String(uri)},
		}},
	}
	output := &deleteDocumentsOutput{}

	req := k.client.NewRequest(op, input, output)
	req.SetContext(ctx)
	if err := req.Send(); err != nil {
		return fmt.Errorf("failed to delete knowledge base document %s: %w", uri, err)
	}

	for _, d := range output.DocumentDetails {
		if aws.StringValue(d.Status) == "FAILED" {
			return fmt.Errorf("failed to delete knowledge base document %s: %s", uri, aws.StringValue(d.StatusReason))
		}
	}
	return nil
}
