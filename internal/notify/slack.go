// Package notify pushes approval requests to human channels. Slack is
// the only platform wired today; the SlackAPI seam keeps it testable and
// leaves room for others.
package notify

import (
	"context"
	"fmt"

	slacklib "github.com/slack-go/slack"

	"github.com/wardenhq/warden/internal/domain"
)

// SlackAPI abstracts the subset of the Slack client used by
// SlackNotifier. This allows testing without real HTTP calls.
type SlackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slacklib.MsgOption) (string, string, error)
}

// SlackNotifier posts approval requests to one configured channel.
type SlackNotifier struct {
	api     SlackAPI
	channel string
}

func NewSlack(api SlackAPI, channel string) *SlackNotifier {
	return &SlackNotifier{api: api, channel: channel}
}

// NewSlackFromToken builds a notifier with the real Slack client.
func NewSlackFromToken(botToken, channel string) *SlackNotifier {
	return NewSlack(slacklib.New(botToken), channel)
}

// ApprovalRequested posts a Block Kit message describing the pending
// request. The message is informational; the decision still happens
// through the API.
func (n *SlackNotifier) ApprovalRequested(ctx context.Context, agentName string, req *domain.ApprovalRequest) error {
	blocks := BuildApprovalBlocks(agentName, req)
	_, _, err := n.api.PostMessageContext(ctx, n.channel, slacklib.MsgOptionBlocks(blocks...))
	if err != nil {
		return fmt.Errorf("notify.SlackNotifier.ApprovalRequested: %w", err)
	}
	return nil
}

// BuildApprovalBlocks builds the Slack Block Kit blocks for one pending
// approval request.
func BuildApprovalBlocks(agentName string, req *domain.ApprovalRequest) []slacklib.Block {
	header := fmt.Sprintf(":lock: *Approval needed:* agent *%s* wants to run `%s`", agentName, req.ToolName)
	section := slacklib.NewSectionBlock(
		slacklib.NewTextBlockObject(slacklib.MarkdownType, header, false, false),
		nil,
		nil,
	)

	details := fmt.Sprintf("Request `%s` expires %s.", req.ID, req.ExpiresAt.Format("2006-01-02 15:04 MST"))
	if amount, ok := req.RequestData["amount"].(float64); ok {
		details = fmt.Sprintf("Amount: *%.2f*\n%s", amount, details)
	}
	detailBlock := slacklib.NewSectionBlock(
		slacklib.NewTextBlockObject(slacklib.MarkdownType, details, false, false),
		nil,
		nil,
	)

	return []slacklib.Block{section, detailBlock}
}
