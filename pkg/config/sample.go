package config

// SampleYAML is the commented configuration template written by
// `fixgate init`.
const SampleYAML = `# fixgate configuration

logging:
  level: INFO        # DEBUG, INFO, WARN, ERROR
  format: text       # text or json
  output: stderr     # stdout, stderr, or a file path

session:
  mode: initiator            # initiator or acceptor
  sender: BANZAI             # our SenderCompID (tag 49)
  target: EXEC               # peer TargetCompID (tag 56)
  version: FIX.4.4           # FIX.4.2, FIX.4.3 or FIX.4.4
  host: 127.0.0.1            # connect address (initiator) / bind address (acceptor)
  port: 9880
  heartbeat_interval: 30     # seconds
  reset_seq_num_on_logon: false
  retry_interval: 5s         # initiator reconnect backoff
  max_retries: 10            # 0 = no retries, -1 = retry forever
  logon_timeout: 10s
  logout_timeout: 10s
  use_tls: false
  # certfile: /etc/fixgate/tls/cert.pem
  # keyfile: /etc/fixgate/tls/key.pem

store:
  type: badger               # memory, badger, sqlite or postgres
  # path defaults to $XDG_STATE_HOME/fixgate/journal
  # postgres:
  #   host: localhost
  #   port: 5432
  #   database: fixgate
  #   user: fixgate
  #   password: secret
  #   sslmode: disable

metrics:
  enabled: false

api:
  enabled: false
  host: 127.0.0.1
  port: 9910
  # jwt_secret: change-me    # enables bearer-token auth

telemetry:
  enabled: false
  # endpoint: localhost:4317
  sample_rate: 0.1
  profiling:
    enabled: false
    # endpoint: http://localhost:4040

# schedule:
#   - time: "07:55"
#     action: start
#   - time: "17:05"
#     action: stop
`
