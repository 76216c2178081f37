package metrics

const namespace = "ackdesk"
