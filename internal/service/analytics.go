package service

import (
	"time"

	"github.com/fleetflow/broker-comms/internal/model"
)

// topTemplateCount is how many templates the analytics report ranks.
const topTemplateCount = 5

// reportedChannels are the channels always present in channel performance.
var reportedChannels = []model.Channel{
	model.ChannelEmail,
	model.ChannelSMS,
	model.ChannelWhatsApp,
	model.ChannelVoiceCall,
}

// AnalyticsAggregator derives communication metrics from the thread store.
type AnalyticsAggregator struct {
	threads   *ThreadStore
	templates *TemplateStore
}

// NewAnalyticsAggregator creates an aggregator.
func NewAnalyticsAggregator(threads *ThreadStore, templates *TemplateStore) *AnalyticsAggregator {
	return &AnalyticsAggregator{threads: threads, templates: templates}
}

// Compute replays every thread owned by brokerID.
func (a *AnalyticsAggregator) Compute(brokerID string) *model.Analytics {
	threads := a.threads.ForBroker(brokerID)

	channels := make(map[model.Channel]model.ChannelStats, len(reportedChannels))
	for _, ch := range reportedChannels {
		channels[ch] = model.ChannelStats{}
	}

	out := &model.Analytics{
		TotalThreads:       len(threads),
		TopTemplates:       a.templates.Top(topTemplateCount),
		ChannelPerformance: channels,
	}

	var (
		totalMessages, inbound int
		responseHours          []float64
		closeHours             []float64
	)
	for i := range threads {
		thread := &threads[i]

		switch thread.Status {
		case model.ThreadActive:
			out.ActiveThreads++
		case model.ThreadClosed:
			out.SuccessfulNegotiations++
			closeHours = append(closeHours, hoursBetween(thread.CreatedAt, thread.UpdatedAt))
		}

		var awaiting *time.Time
		for j := range thread.Messages {
			msg := &thread.Messages[j]
			totalMessages++

			stats, tracked := channels[msg.Channel]
			if msg.Direction == model.DirectionOutbound {
				if tracked {
					stats.Sent++
					if msg.Status == model.StatusDelivered || msg.Status == model.StatusRead {
						stats.Delivered++
					}
				}
				if awaiting == nil {
					ts := msg.Timestamp
					awaiting = &ts
				}
			} else {
				inbound++
				if tracked {
					stats.Responses++
				}
				if awaiting != nil {
					responseHours = append(responseHours, hoursBetween(*awaiting, msg.Timestamp))
					awaiting = nil
				}
			}
			if tracked {
				channels[msg.Channel] = stats
			}
		}
	}

	for ch, stats := range channels {
		if stats.Sent > 0 {
			stats.Effectiveness = float64(stats.Responses) / float64(stats.Sent) * 100
			channels[ch] = stats
		}
	}

	if totalMessages > 0 {
		out.ResponseRate = float64(inbound) / float64(totalMessages) * 100
	}
	out.AverageResponseTime = mean(responseHours)
	out.TimeToClose = mean(closeHours)
	return out
}

func hoursBetween(from, to time.Time) float64 {
	d := to.Sub(from).Hours()
	if d < 0 {
		return 0
	}
	return d
}

// mean returns nil for an empty sample.
func mean(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	m := sum / float64(len(values))
	return &m
}
