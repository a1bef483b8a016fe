package featureflag

type Flag string

const (
	FlagTraversalCrossCheck Flag = "TRAVERSAL_CROSS_CHECK"
	FlagDisableMapBroadcast Flag = "DISABLE_MAP_BROADCAST"
	FlagRejectUnscoredScans Flag = "REJECT_UNSCORED_SCANS"
)

var knownFlags = map[Flag]struct{}{
	FlagTraversalCrossCheck: {},
	FlagDisableMapBroadcast: {},
	FlagRejectUnscoredScans: {},
}
