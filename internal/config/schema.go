package config

// configSchema documents and validates the recognized configuration keys.
// Config loading itself (translating some external format such as YAML
// into this JSON) is an external collaborator's job, not the core's; the
// core only understands this JSON shape, the same way the teacher's own
// config layer only understands its own JSON shape.
var configSchema = `
{
  "type": "object",
  "properties": {
    "log_level": {
      "description": "debug|info|notice|warn|err|crit",
      "type": "string"
    },
    "log_date_time": {
      "type": "boolean"
    },
    "attribute_store_hot_limit": {
      "description": "Base hot-tier capacity per (sensor,attribute) before load scaling.",
      "type": "integer"
    },
    "attribute_store_warm_limit": {
      "description": "Base warm-tier capacity per (sensor,attribute) before load scaling.",
      "type": "integer"
    },
    "attention": {
      "type": "object",
      "properties": {
        "battery_cap_low": { "type": "string" },
        "battery_cap_critical": { "type": "string" },
        "focus_boost_ms": { "type": "integer" },
        "hover_boost_ms": { "type": "integer" },
        "stale_sweep_interval_ms": { "type": "integer" },
        "stale_after_ms": { "type": "integer" }
      }
    },
    "sensor": {
      "type": "object",
      "properties": {
        "hibernate_after_ms": { "type": "integer" },
        "idle_check_interval_ms": { "type": "integer" }
      }
    },
    "load": {
      "type": "object",
      "properties": {
        "sample_interval_ms": { "type": "integer" }
      }
    },
    "replicator_pool_size": { "type": "integer" },
    "replicator_batch_size": { "type": "integer" },
    "replicator_batch_timeout_ms": { "type": "integer" },
    "priority_attributes": {
      "type": "array",
      "items": { "type": "string" }
    },
    "nats": {
      "type": "object",
      "properties": {
        "address": { "type": "string" },
        "username": { "type": "string" },
        "password": { "type": "string" },
        "creds_file_path": { "type": "string" }
      }
    },
    "simulator": {
      "type": "object",
      "properties": {
        "enabled": { "type": "boolean" },
        "sensor_count": { "type": "integer" },
        "attributes": {
          "type": "array",
          "items": { "type": "string" }
        },
        "base_delay_ms": { "type": "integer" },
        "base_batch_window_ms": { "type": "integer" },
        "batch_size": { "type": "integer" }
      }
    }
  }
}`
