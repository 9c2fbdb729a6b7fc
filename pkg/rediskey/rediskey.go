package rediskey

import "fmt"

const (
	CampaignEventsPrefix = "campaign:events"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// CampaignEventsChannel returns "campaign:events", the channel carrying every campaign's events.
func CampaignEventsChannel() string {
	return CampaignEventsPrefix
}

// CampaignChannel returns "campaign:events:{campaignID}"
func CampaignChannel(campaignID string) string {
	return NamespaceKey(CampaignEventsPrefix, campaignID)
}
