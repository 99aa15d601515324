package types

// KindRunService is the resource kind for managed container services
const KindRunService = "run.service"
