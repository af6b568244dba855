package model

// ChannelStats aggregates outbound and inbound traffic for one channel.
type ChannelStats struct {
	Sent          int     `json:"sent"`
	Delivered     int     `json:"delivered"`
	Responses     int     `json:"responses"`
	Effectiveness float64 `json:"effectiveness"`
}

// TemplateStat is a template's usage summary.
type TemplateStat struct {
	TemplateID    string  `json:"template_id"`
	Name          string  `json:"name"`
	Usage         int     `json:"usage"`
	Effectiveness float64 `json:"effectiveness"`
}

// Analytics is derived by replaying a broker's threads.
//
// AverageResponseTime and TimeToClose are hours and nil when there is no
// data to derive them from. CustomerSatisfaction has no data source yet and
// is always nil.
type Analytics struct {
	TotalThreads           int                      `json:"total_threads"`
	ActiveThreads          int                      `json:"active_threads"`
	ResponseRate           float64                  `json:"response_rate"`
	AverageResponseTime    *float64                 `json:"average_response_time"`
	SuccessfulNegotiations int                      `json:"successful_negotiations"`
	TopTemplates           []TemplateStat           `json:"top_templates"`
	ChannelPerformance     map[Channel]ChannelStats `json:"channel_performance"`
	TimeToClose            *float64                 `json:"time_to_close"`
	CustomerSatisfaction   *float64                 `json:"customer_satisfaction"`
}
